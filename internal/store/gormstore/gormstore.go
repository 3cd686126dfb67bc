package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/spacebook/pkg/booking"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultMetadataJSON      = "{}"
	dialectPostgres          = "postgres"
	dialectMySQL             = "mysql"
	dialectSQLite            = "sqlite"
	pgUniqueViolationCode    = "23505"
	sqliteConstraintCode     = 19
	errorOperationStore      = "store"
	errorSubjectHolder       = "holder"
	errorSubjectLock         = "lock"
	errorSubjectReservation  = "reservation"
	errorSubjectResource     = "resource"
	errorCodeAcquire         = "acquire"
	errorCodeDelete          = "delete"
	errorCodeDuplicate       = "duplicate"
	errorCodeGet             = "get"
	errorCodeInsert          = "insert"
	errorCodeInvalid         = "invalid"
	errorCodeList            = "list"
	errorCodeSave            = "save"
	errorCodeUpdate          = "update"
	reservationOrder         = "reservation_date, start_second, reservation_id"
	advisoryLockStatement    = "SELECT pg_advisory_xact_lock(hashtext(?))"
	reservationIDCondition   = "reservation_id = ?"
	reservationCASCondition  = "reservation_id = ? AND version = ?"
	resourceDateCondition    = "resource_id = ? AND reservation_date = ?"
	holderDateCondition      = "holder_id = ? AND reservation_date = ?"
	holderFromDateCondition  = "holder_id = ? AND reservation_date >= ?"
	openRangeCondition       = "reservation_date >= ? AND reservation_date <= ?"
	openFlagsCondition       = "(notified_start = ? OR notified_end = ? OR activated = ?)"
	tallyColumns             = "holder_id, resource_id, COUNT(*) AS bookings, " +
		"SUM(CASE WHEN activated THEN 1 ELSE 0 END) AS visits, " +
		"SUM(end_second - start_second) AS total_seconds"
	tallyGroup = "holder_id, resource_id"
)

type tallyRow struct {
	HolderID     string
	ResourceID   string
	Bookings     int
	Visits       int
	TotalSeconds int64
}

// Store implements booking.Store using GORM.
type Store struct {
	db   *gorm.DB
	inTx bool
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore booking.Store) error) error {
	if store.inTx {
		return fn(ctx, store)
	}
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction, inTx: true})
	})
}

// LockScopes takes transaction-scoped locks on keys. PostgreSQL uses
// advisory locks, MySQL locks rows of scope_locks, and SQLite relies on its
// single writer.
func (store *Store) LockScopes(ctx context.Context, keys []booking.ScopeKey) error {
	db := store.db.WithContext(ctx)
	switch db.Dialector.Name() {
	case dialectPostgres:
		for _, key := range keys {
			if err := db.Exec(advisoryLockStatement, string(key)).Error; err != nil {
				return wrapStoreError(errorSubjectLock, errorCodeAcquire, err)
			}
		}
	case dialectMySQL:
		for _, key := range keys {
			lock := ScopeLock{ScopeKey: string(key)}
			if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&lock).Error; err != nil {
				return wrapStoreError(errorSubjectLock, errorCodeAcquire, err)
			}
			if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).Take(&lock, "scope_key = ?", string(key)).Error; err != nil {
				return wrapStoreError(errorSubjectLock, errorCodeAcquire, err)
			}
		}
	}
	return nil
}

func (store *Store) InsertReservation(ctx context.Context, reservation booking.Reservation) error {
	model := reservationModel(reservation)
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectReservation, errorCodeDuplicate, booking.ErrReservationExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) UpdateReservation(ctx context.Context, reservation booking.Reservation) error {
	result := store.db.WithContext(ctx).
		Model(&Reservation{}).
		Where(reservationCASCondition, reservation.ID.String(), reservation.Version).
		Updates(map[string]interface{}{
			"resource_id":      reservation.ResourceID.String(),
			"reservation_date": reservation.Slot.Date.String(),
			"start_second":     reservation.Slot.Interval.Start(),
			"end_second":       reservation.Slot.Interval.End(),
			"activated":        reservation.Activated,
			"notified_start":   reservation.NotifiedStart,
			"notified_end":     reservation.NotifiedEnd,
			"version":          gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return store.missingOrStale(ctx, reservation.ID, errorCodeUpdate)
	}
	return nil
}

func (store *Store) DeleteReservation(ctx context.Context, reservation booking.Reservation) error {
	result := store.db.WithContext(ctx).
		Where(reservationCASCondition, reservation.ID.String(), reservation.Version).
		Delete(&Reservation{})
	if result.Error != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeDelete, result.Error)
	}
	if result.RowsAffected == 0 {
		return store.missingOrStale(ctx, reservation.ID, errorCodeDelete)
	}
	return nil
}

func (store *Store) missingOrStale(ctx context.Context, reservationID booking.ReservationID, code string) error {
	var count int64
	err := store.db.WithContext(ctx).Model(&Reservation{}).Where(reservationIDCondition, reservationID.String()).Count(&count).Error
	if err != nil {
		return wrapStoreError(errorSubjectReservation, code, err)
	}
	if count == 0 {
		return wrapStoreError(errorSubjectReservation, code, booking.ErrUnknownReservation)
	}
	return wrapStoreError(errorSubjectReservation, code, booking.ErrStaleReservation)
}

func (store *Store) GetReservation(ctx context.Context, reservationID booking.ReservationID) (booking.Reservation, error) {
	query := store.db.WithContext(ctx)
	if store.inTx && query.Dialector.Name() != dialectSQLite {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var model Reservation
	err := query.Where(reservationIDCondition, reservationID.String()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return booking.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, booking.ErrUnknownReservation)
	}
	if err != nil {
		return booking.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, err)
	}
	reservation, err := mapReservation(model)
	if err != nil {
		return booking.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
	}
	return reservation, nil
}

func (store *Store) QueryByResourceAndDate(ctx context.Context, resourceID booking.ResourceID, date booking.Date) ([]booking.Reservation, error) {
	return store.findReservations(ctx, resourceDateCondition, resourceID.String(), date.String())
}

func (store *Store) QueryByHolderAndDate(ctx context.Context, holderID booking.HolderID, date booking.Date) ([]booking.Reservation, error) {
	return store.findReservations(ctx, holderDateCondition, holderID.String(), date.String())
}

func (store *Store) QueryByHolder(ctx context.Context, holderID booking.HolderID, from booking.Date) ([]booking.Reservation, error) {
	return store.findReservations(ctx, holderFromDateCondition, holderID.String(), from.String())
}

func (store *Store) QueryOpen(ctx context.Context, from booking.Date, through booking.Date) ([]booking.Reservation, error) {
	var rows []Reservation
	err := store.db.WithContext(ctx).
		Where(openRangeCondition, from.String(), through.String()).
		Where(openFlagsCondition, false, false, false).
		Order(reservationOrder).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectReservation, errorCodeList, err)
	}
	return mapReservations(rows)
}

// TallyReservations groups reservations by holder and resource in SQL.
func (store *Store) TallyReservations(ctx context.Context) ([]booking.ReservationTally, error) {
	var rows []tallyRow
	err := store.db.WithContext(ctx).
		Model(&Reservation{}).
		Select(tallyColumns).
		Group(tallyGroup).
		Order(tallyGroup).
		Scan(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectReservation, errorCodeList, err)
	}
	tallies := make([]booking.ReservationTally, 0, len(rows))
	for _, row := range rows {
		holderID, err := booking.NewHolderID(row.HolderID)
		if err != nil {
			return nil, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
		}
		resourceID, err := booking.NewResourceID(row.ResourceID)
		if err != nil {
			return nil, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
		}
		tallies = append(tallies, booking.ReservationTally{
			HolderID:     holderID,
			ResourceID:   resourceID,
			Bookings:     row.Bookings,
			Visits:       row.Visits,
			TotalSeconds: row.TotalSeconds,
		})
	}
	return tallies, nil
}

func (store *Store) findReservations(ctx context.Context, condition string, arguments ...interface{}) ([]booking.Reservation, error) {
	var rows []Reservation
	err := store.db.WithContext(ctx).
		Where(condition, arguments...).
		Order(reservationOrder).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectReservation, errorCodeList, err)
	}
	return mapReservations(rows)
}

func (store *Store) GetResource(ctx context.Context, resourceID booking.ResourceID) (booking.Resource, error) {
	var model Resource
	err := store.db.WithContext(ctx).Where("resource_id = ?", resourceID.String()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return booking.Resource{}, wrapStoreError(errorSubjectResource, errorCodeGet, booking.ErrUnknownResource)
	}
	if err != nil {
		return booking.Resource{}, wrapStoreError(errorSubjectResource, errorCodeGet, err)
	}
	resource, err := mapResource(model)
	if err != nil {
		return booking.Resource{}, wrapStoreError(errorSubjectResource, errorCodeInvalid, err)
	}
	return resource, nil
}

func (store *Store) ListResources(ctx context.Context) ([]booking.Resource, error) {
	var rows []Resource
	if err := store.db.WithContext(ctx).Order("created_at, resource_id").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectResource, errorCodeList, err)
	}
	resources := make([]booking.Resource, 0, len(rows))
	for _, row := range rows {
		resource, err := mapResource(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectResource, errorCodeInvalid, err)
		}
		resources = append(resources, resource)
	}
	return resources, nil
}

func (store *Store) SaveResource(ctx context.Context, resource booking.Resource) error {
	now := time.Now().UTC()
	model := Resource{
		ResourceID:   resource.ID().String(),
		Name:         resource.Name(),
		Capacity:     resource.Capacity(),
		ResourceType: resource.Type().String(),
		AccessLevel:  resource.AccessLevel().String(),
		Metadata:     datatypesJSON(resource.Metadata().String()),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "resource_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "capacity", "resource_type", "access_level", "metadata", "updated_at"}),
		}).
		Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectResource, errorCodeSave, err)
	}
	return nil
}

func (store *Store) GetHolder(ctx context.Context, holderID booking.HolderID) (booking.Holder, error) {
	var model Holder
	err := store.db.WithContext(ctx).Where("holder_id = ?", holderID.String()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return booking.Holder{}, wrapStoreError(errorSubjectHolder, errorCodeGet, booking.ErrUnknownHolder)
	}
	if err != nil {
		return booking.Holder{}, wrapStoreError(errorSubjectHolder, errorCodeGet, err)
	}
	holder, err := mapHolder(model)
	if err != nil {
		return booking.Holder{}, wrapStoreError(errorSubjectHolder, errorCodeInvalid, err)
	}
	return holder, nil
}

func (store *Store) SaveHolder(ctx context.Context, holder booking.Holder) error {
	now := time.Now().UTC()
	model := Holder{
		HolderID:            holder.ID.String(),
		Role:                holder.Role.String(),
		ActivationTokenHash: holder.ActivationTokenHash,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if holder.TelegramChatID != 0 {
		chatID := holder.TelegramChatID
		model.TelegramChatID = &chatID
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "holder_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"role", "telegram_chat_id", "activation_token_hash", "updated_at"}),
		}).
		Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectHolder, errorCodeSave, err)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return booking.WrapError(errorOperationStore, subject, code, err)
}

func reservationModel(reservation booking.Reservation) Reservation {
	return Reservation{
		ReservationID:   reservation.ID.String(),
		ResourceID:      reservation.ResourceID.String(),
		HolderID:        reservation.HolderID.String(),
		ReservationDate: reservation.Slot.Date.String(),
		StartSecond:     reservation.Slot.Interval.Start(),
		EndSecond:       reservation.Slot.Interval.End(),
		Activated:       reservation.Activated,
		NotifiedStart:   reservation.NotifiedStart,
		NotifiedEnd:     reservation.NotifiedEnd,
		Version:         reservation.Version,
		CreatedAt:       reservation.CreatedAt,
	}
}

func mapReservations(rows []Reservation) ([]booking.Reservation, error) {
	reservations := make([]booking.Reservation, 0, len(rows))
	for _, row := range rows {
		reservation, err := mapReservation(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
		}
		reservations = append(reservations, reservation)
	}
	return reservations, nil
}

func mapReservation(row Reservation) (booking.Reservation, error) {
	reservationID, err := booking.NewReservationID(row.ReservationID)
	if err != nil {
		return booking.Reservation{}, err
	}
	resourceID, err := booking.NewResourceID(row.ResourceID)
	if err != nil {
		return booking.Reservation{}, err
	}
	holderID, err := booking.NewHolderID(row.HolderID)
	if err != nil {
		return booking.Reservation{}, err
	}
	date, err := booking.NewDate(row.ReservationDate)
	if err != nil {
		return booking.Reservation{}, err
	}
	slot, err := booking.NewSlot(date, row.StartSecond, row.EndSecond)
	if err != nil {
		return booking.Reservation{}, err
	}
	return booking.Reservation{
		ID:            reservationID,
		ResourceID:    resourceID,
		HolderID:      holderID,
		Slot:          slot,
		Activated:     row.Activated,
		NotifiedStart: row.NotifiedStart,
		NotifiedEnd:   row.NotifiedEnd,
		Version:       row.Version,
		CreatedAt:     row.CreatedAt.UTC(),
	}, nil
}

func mapResource(row Resource) (booking.Resource, error) {
	resourceID, err := booking.NewResourceID(row.ResourceID)
	if err != nil {
		return booking.Resource{}, err
	}
	resourceType, err := booking.ParseResourceType(row.ResourceType)
	if err != nil {
		return booking.Resource{}, err
	}
	accessLevel, err := booking.ParseAccessLevel(row.AccessLevel)
	if err != nil {
		return booking.Resource{}, err
	}
	metadata, err := booking.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return booking.Resource{}, err
	}
	return booking.NewResource(resourceID, row.Name, row.Capacity, resourceType, accessLevel, metadata)
}

func mapHolder(row Holder) (booking.Holder, error) {
	holderID, err := booking.NewHolderID(row.HolderID)
	if err != nil {
		return booking.Holder{}, err
	}
	role, err := booking.ParseRole(row.Role)
	if err != nil {
		return booking.Holder{}, err
	}
	holder := booking.Holder{
		ID:                  holderID,
		Role:                role,
		ActivationTokenHash: row.ActivationTokenHash,
	}
	if row.TelegramChatID != nil {
		holder.TelegramChatID = *row.TelegramChatID
	}
	return holder, nil
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
