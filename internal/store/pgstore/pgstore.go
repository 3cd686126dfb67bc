package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/spacebook/pkg/booking"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	constraintReservationPrimary = "reservations_pkey"
	pgUniqueViolationCode        = "23505"
	errorOperationStore          = "store"
	errorSubjectHolder           = "holder"
	errorSubjectLock             = "lock"
	errorSubjectReservation      = "reservation"
	errorSubjectResource         = "resource"
	errorSubjectSchema           = "schema"
	errorSubjectTransaction      = "transaction"
	errorCodeAcquire             = "acquire"
	errorCodeBegin               = "begin"
	errorCodeCommit              = "commit"
	errorCodeDelete              = "delete"
	errorCodeDuplicate           = "duplicate"
	errorCodeGet                 = "get"
	errorCodeInsert              = "insert"
	errorCodeInvalid             = "invalid"
	errorCodeList                = "list"
	errorCodeMigrate             = "migrate"
	errorCodeSave                = "save"
	errorCodeUpdate              = "update"

	reservationColumns = `
		reservation_id, resource_id, holder_id,
		to_char(reservation_date, 'YYYY-MM-DD'),
		start_second, end_second, activated, notified_start, notified_end, version, created_at
	`

	sqlAdvisoryLock = `select pg_advisory_xact_lock(hashtext($1))`

	sqlInsertReservation = `
		insert into reservations(
			reservation_id, resource_id, holder_id, reservation_date,
			start_second, end_second, activated, notified_start, notified_end, version, created_at
		)
		values($1, $2, $3, $4::text::date, $5, $6, $7, $8, $9, $10, $11)
	`

	sqlUpdateReservation = `
		update reservations
		set resource_id = $3, reservation_date = $4::text::date, start_second = $5, end_second = $6,
			activated = $7, notified_start = $8, notified_end = $9, version = version + 1
		where reservation_id = $1 and version = $2
	`

	sqlDeleteReservation = `delete from reservations where reservation_id = $1 and version = $2`

	sqlReservationExists = `select exists(select 1 from reservations where reservation_id = $1)`

	sqlSelectReservation = `select` + reservationColumns + `from reservations where reservation_id = $1`

	sqlSelectReservationForUpdate = sqlSelectReservation + ` for update`

	sqlSelectByResourceAndDate = `select` + reservationColumns + `from reservations
		where resource_id = $1 and reservation_date = $2::text::date
		order by start_second, reservation_id`

	sqlSelectByHolderAndDate = `select` + reservationColumns + `from reservations
		where holder_id = $1 and reservation_date = $2::text::date
		order by start_second, reservation_id`

	sqlSelectByHolderFrom = `select` + reservationColumns + `from reservations
		where holder_id = $1 and reservation_date >= $2::text::date
		order by reservation_date, start_second, reservation_id`

	sqlSelectOpen = `select` + reservationColumns + `from reservations
		where reservation_date between $1::text::date and $2::text::date
		and not (activated and notified_start and notified_end)
		order by reservation_date, start_second, reservation_id`

	sqlTallyReservations = `
		select holder_id, resource_id, count(*)::int, (count(*) filter (where activated))::int,
			coalesce(sum(end_second - start_second), 0)::bigint
		from reservations
		group by holder_id, resource_id
		order by holder_id, resource_id
	`

	sqlSelectResource = `
		select resource_id, name, capacity, resource_type, access_level, metadata::text
		from resources where resource_id = $1
	`

	sqlListResources = `
		select resource_id, name, capacity, resource_type, access_level, metadata::text
		from resources order by created_at, resource_id
	`

	sqlUpsertResource = `
		insert into resources(resource_id, name, capacity, resource_type, access_level, metadata)
		values($1, $2, $3, $4, $5, coalesce(nullif($6,''),'{}')::jsonb)
		on conflict (resource_id) do update set
			name = excluded.name, capacity = excluded.capacity, resource_type = excluded.resource_type,
			access_level = excluded.access_level, metadata = excluded.metadata, updated_at = now()
	`

	sqlSelectHolder = `
		select holder_id, role, telegram_chat_id, activation_token_hash
		from holders where holder_id = $1
	`

	sqlUpsertHolder = `
		insert into holders(holder_id, role, telegram_chat_id, activation_token_hash)
		values($1, $2, $3, $4)
		on conflict (holder_id) do update set
			role = excluded.role, telegram_chat_id = excluded.telegram_chat_id,
			activation_token_hash = excluded.activation_token_hash, updated_at = now()
	`
)

// Schema creates the tables Store reads and writes.
const Schema = `
create table if not exists resources (
	resource_id   text primary key,
	name          text not null,
	capacity      integer not null check (capacity between 1 and 1000),
	resource_type text not null,
	access_level  text not null,
	metadata      jsonb not null default '{}',
	created_at    timestamptz not null default now(),
	updated_at    timestamptz not null default now()
);

create table if not exists holders (
	holder_id             text primary key,
	role                  text not null,
	telegram_chat_id      bigint,
	activation_token_hash text not null default '',
	created_at            timestamptz not null default now(),
	updated_at            timestamptz not null default now()
);

create table if not exists reservations (
	reservation_id   text primary key,
	resource_id      text not null,
	holder_id        text not null,
	reservation_date date not null,
	start_second     integer not null,
	end_second       integer not null,
	activated        boolean not null default false,
	notified_start   boolean not null default false,
	notified_end     boolean not null default false,
	version          bigint not null default 1,
	created_at       timestamptz not null default now(),
	check (start_second >= 0 and start_second < end_second and end_second <= 86400)
);

create index if not exists idx_reservations_resource_date on reservations(resource_id, reservation_date);
create index if not exists idx_reservations_holder_date on reservations(holder_id, reservation_date);
`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row
}

// Store implements booking.Store using a pgx connection pool (autocommit).
type Store struct {
	pool *pgxpool.Pool
	db   querier
}

// TxStore implements booking.Store for an active transaction.
type TxStore struct {
	Store
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

// Migrate applies Schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeMigrate, err)
	}
	return nil
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore booking.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &TxStore{Store: Store{pool: store.pool, db: tx}}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

// LockScopes outside a transaction is a no-op: advisory xact locks would
// be released immediately.
func (store *Store) LockScopes(context.Context, []booking.ScopeKey) error {
	return nil
}

func (store *Store) InsertReservation(ctx context.Context, reservation booking.Reservation) error {
	createdAt := reservation.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := store.db.Exec(ctx, sqlInsertReservation,
		reservation.ID.String(),
		reservation.ResourceID.String(),
		reservation.HolderID.String(),
		reservation.Slot.Date.String(),
		reservation.Slot.Interval.Start(),
		reservation.Slot.Interval.End(),
		reservation.Activated,
		reservation.NotifiedStart,
		reservation.NotifiedEnd,
		reservation.Version,
		createdAt,
	)
	if isReservationConflict(err) {
		return wrapStoreError(errorSubjectReservation, errorCodeDuplicate, booking.ErrReservationExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) UpdateReservation(ctx context.Context, reservation booking.Reservation) error {
	tag, err := store.db.Exec(ctx, sqlUpdateReservation,
		reservation.ID.String(),
		reservation.Version,
		reservation.ResourceID.String(),
		reservation.Slot.Date.String(),
		reservation.Slot.Interval.Start(),
		reservation.Slot.Interval.End(),
		reservation.Activated,
		reservation.NotifiedStart,
		reservation.NotifiedEnd,
	)
	if err != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return store.missingOrStale(ctx, reservation.ID, errorCodeUpdate)
	}
	return nil
}

func (store *Store) DeleteReservation(ctx context.Context, reservation booking.Reservation) error {
	tag, err := store.db.Exec(ctx, sqlDeleteReservation, reservation.ID.String(), reservation.Version)
	if err != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeDelete, err)
	}
	if tag.RowsAffected() == 0 {
		return store.missingOrStale(ctx, reservation.ID, errorCodeDelete)
	}
	return nil
}

func (store *Store) missingOrStale(ctx context.Context, reservationID booking.ReservationID, code string) error {
	var exists bool
	if err := store.db.QueryRow(ctx, sqlReservationExists, reservationID.String()).Scan(&exists); err != nil {
		return wrapStoreError(errorSubjectReservation, code, err)
	}
	if !exists {
		return wrapStoreError(errorSubjectReservation, code, booking.ErrUnknownReservation)
	}
	return wrapStoreError(errorSubjectReservation, code, booking.ErrStaleReservation)
}

func (store *Store) GetReservation(ctx context.Context, reservationID booking.ReservationID) (booking.Reservation, error) {
	return store.getReservation(ctx, sqlSelectReservation, reservationID)
}

func (store *Store) getReservation(ctx context.Context, query string, reservationID booking.ReservationID) (booking.Reservation, error) {
	reservation, err := scanReservation(store.db.QueryRow(ctx, query, reservationID.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return booking.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, booking.ErrUnknownReservation)
	}
	if err != nil {
		return booking.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, err)
	}
	return reservation, nil
}

func (store *Store) QueryByResourceAndDate(ctx context.Context, resourceID booking.ResourceID, date booking.Date) ([]booking.Reservation, error) {
	return store.listReservations(ctx, sqlSelectByResourceAndDate, resourceID.String(), date.String())
}

func (store *Store) QueryByHolderAndDate(ctx context.Context, holderID booking.HolderID, date booking.Date) ([]booking.Reservation, error) {
	return store.listReservations(ctx, sqlSelectByHolderAndDate, holderID.String(), date.String())
}

func (store *Store) QueryByHolder(ctx context.Context, holderID booking.HolderID, from booking.Date) ([]booking.Reservation, error) {
	return store.listReservations(ctx, sqlSelectByHolderFrom, holderID.String(), from.String())
}

func (store *Store) QueryOpen(ctx context.Context, from booking.Date, through booking.Date) ([]booking.Reservation, error) {
	return store.listReservations(ctx, sqlSelectOpen, from.String(), through.String())
}

func (store *Store) listReservations(ctx context.Context, query string, arguments ...any) ([]booking.Reservation, error) {
	rows, err := store.db.Query(ctx, query, arguments...)
	if err != nil {
		return nil, wrapStoreError(errorSubjectReservation, errorCodeList, err)
	}
	defer rows.Close()
	reservations := make([]booking.Reservation, 0, 8)
	for rows.Next() {
		reservation, err := scanReservation(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
		}
		reservations = append(reservations, reservation)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectReservation, errorCodeList, err)
	}
	return reservations, nil
}

func (store *Store) TallyReservations(ctx context.Context) ([]booking.ReservationTally, error) {
	rows, err := store.db.Query(ctx, sqlTallyReservations)
	if err != nil {
		return nil, wrapStoreError(errorSubjectReservation, errorCodeList, err)
	}
	defer rows.Close()
	var tallies []booking.ReservationTally
	for rows.Next() {
		var (
			rawHolder   string
			rawResource string
			tally       booking.ReservationTally
		)
		if err := rows.Scan(&rawHolder, &rawResource, &tally.Bookings, &tally.Visits, &tally.TotalSeconds); err != nil {
			return nil, wrapStoreError(errorSubjectReservation, errorCodeList, err)
		}
		if tally.HolderID, err = booking.NewHolderID(rawHolder); err != nil {
			return nil, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
		}
		if tally.ResourceID, err = booking.NewResourceID(rawResource); err != nil {
			return nil, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
		}
		tallies = append(tallies, tally)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectReservation, errorCodeList, err)
	}
	return tallies, nil
}

func (store *Store) GetResource(ctx context.Context, resourceID booking.ResourceID) (booking.Resource, error) {
	resource, err := scanResource(store.db.QueryRow(ctx, sqlSelectResource, resourceID.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return booking.Resource{}, wrapStoreError(errorSubjectResource, errorCodeGet, booking.ErrUnknownResource)
	}
	if err != nil {
		return booking.Resource{}, wrapStoreError(errorSubjectResource, errorCodeGet, err)
	}
	return resource, nil
}

func (store *Store) ListResources(ctx context.Context) ([]booking.Resource, error) {
	rows, err := store.db.Query(ctx, sqlListResources)
	if err != nil {
		return nil, wrapStoreError(errorSubjectResource, errorCodeList, err)
	}
	defer rows.Close()
	resources := make([]booking.Resource, 0, 16)
	for rows.Next() {
		resource, err := scanResource(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectResource, errorCodeInvalid, err)
		}
		resources = append(resources, resource)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectResource, errorCodeList, err)
	}
	return resources, nil
}

func (store *Store) SaveResource(ctx context.Context, resource booking.Resource) error {
	_, err := store.db.Exec(ctx, sqlUpsertResource,
		resource.ID().String(),
		resource.Name(),
		resource.Capacity(),
		resource.Type().String(),
		resource.AccessLevel().String(),
		resource.Metadata().String(),
	)
	if err != nil {
		return wrapStoreError(errorSubjectResource, errorCodeSave, err)
	}
	return nil
}

func (store *Store) GetHolder(ctx context.Context, holderID booking.HolderID) (booking.Holder, error) {
	var (
		holderValue string
		roleValue   string
		chatID      *int64
		tokenHash   string
	)
	err := store.db.QueryRow(ctx, sqlSelectHolder, holderID.String()).Scan(&holderValue, &roleValue, &chatID, &tokenHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return booking.Holder{}, wrapStoreError(errorSubjectHolder, errorCodeGet, booking.ErrUnknownHolder)
	}
	if err != nil {
		return booking.Holder{}, wrapStoreError(errorSubjectHolder, errorCodeGet, err)
	}
	parsedHolderID, err := booking.NewHolderID(holderValue)
	if err != nil {
		return booking.Holder{}, wrapStoreError(errorSubjectHolder, errorCodeInvalid, err)
	}
	role, err := booking.ParseRole(roleValue)
	if err != nil {
		return booking.Holder{}, wrapStoreError(errorSubjectHolder, errorCodeInvalid, err)
	}
	holder := booking.Holder{ID: parsedHolderID, Role: role, ActivationTokenHash: tokenHash}
	if chatID != nil {
		holder.TelegramChatID = *chatID
	}
	return holder, nil
}

func (store *Store) SaveHolder(ctx context.Context, holder booking.Holder) error {
	var chatID *int64
	if holder.TelegramChatID != 0 {
		value := holder.TelegramChatID
		chatID = &value
	}
	_, err := store.db.Exec(ctx, sqlUpsertHolder, holder.ID.String(), holder.Role.String(), chatID, holder.ActivationTokenHash)
	if err != nil {
		return wrapStoreError(errorSubjectHolder, errorCodeSave, err)
	}
	return nil
}

// WithTx joins the running transaction.
func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore booking.Store) error) error {
	return fn(ctx, store)
}

// LockScopes takes one advisory lock per key, released at commit or rollback.
func (store *TxStore) LockScopes(ctx context.Context, keys []booking.ScopeKey) error {
	for _, key := range keys {
		if _, err := store.db.Exec(ctx, sqlAdvisoryLock, string(key)); err != nil {
			return wrapStoreError(errorSubjectLock, errorCodeAcquire, err)
		}
	}
	return nil
}

// GetReservation locks the row until the transaction ends.
func (store *TxStore) GetReservation(ctx context.Context, reservationID booking.ReservationID) (booking.Reservation, error) {
	return store.getReservation(ctx, sqlSelectReservationForUpdate, reservationID)
}

func scanReservation(row pgx.Row) (booking.Reservation, error) {
	var (
		reservationValue string
		resourceValue    string
		holderValue      string
		dateValue        string
		startSecond      int
		endSecond        int
		activated        bool
		notifiedStart    bool
		notifiedEnd      bool
		version          int64
		createdAt        time.Time
	)
	if err := row.Scan(
		&reservationValue,
		&resourceValue,
		&holderValue,
		&dateValue,
		&startSecond,
		&endSecond,
		&activated,
		&notifiedStart,
		&notifiedEnd,
		&version,
		&createdAt,
	); err != nil {
		return booking.Reservation{}, err
	}
	reservationID, err := booking.NewReservationID(reservationValue)
	if err != nil {
		return booking.Reservation{}, err
	}
	resourceID, err := booking.NewResourceID(resourceValue)
	if err != nil {
		return booking.Reservation{}, err
	}
	holderID, err := booking.NewHolderID(holderValue)
	if err != nil {
		return booking.Reservation{}, err
	}
	date, err := booking.NewDate(dateValue)
	if err != nil {
		return booking.Reservation{}, err
	}
	slot, err := booking.NewSlot(date, startSecond, endSecond)
	if err != nil {
		return booking.Reservation{}, err
	}
	return booking.Reservation{
		ID:            reservationID,
		ResourceID:    resourceID,
		HolderID:      holderID,
		Slot:          slot,
		Activated:     activated,
		NotifiedStart: notifiedStart,
		NotifiedEnd:   notifiedEnd,
		Version:       version,
		CreatedAt:     createdAt.UTC(),
	}, nil
}

func scanResource(row pgx.Row) (booking.Resource, error) {
	var (
		resourceValue    string
		name             string
		capacity         int
		resourceTypeName string
		accessLevelName  string
		metadataValue    string
	)
	if err := row.Scan(&resourceValue, &name, &capacity, &resourceTypeName, &accessLevelName, &metadataValue); err != nil {
		return booking.Resource{}, err
	}
	resourceID, err := booking.NewResourceID(resourceValue)
	if err != nil {
		return booking.Resource{}, err
	}
	resourceType, err := booking.ParseResourceType(resourceTypeName)
	if err != nil {
		return booking.Resource{}, err
	}
	accessLevel, err := booking.ParseAccessLevel(accessLevelName)
	if err != nil {
		return booking.Resource{}, err
	}
	metadata, err := booking.NewMetadataJSON(metadataValue)
	if err != nil {
		return booking.Resource{}, err
	}
	return booking.NewResource(resourceID, name, capacity, resourceType, accessLevel, metadata)
}

func wrapStoreError(subject string, code string, err error) error {
	return booking.WrapError(errorOperationStore, subject, code, err)
}

func isReservationConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintReservationPrimary
	}
	return false
}
