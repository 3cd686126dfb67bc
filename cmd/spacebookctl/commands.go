package main

import (
	"github.com/MarkoPoloResearchLab/spacebook/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/spacebook/pkg/booking"
	"github.com/spf13/cobra"
)

type callFunc func(cmd *cobra.Command, method string, request map[string]any) error

func addSlotFlags(cmd *cobra.Command) {
	cmd.Flags().String(flagDate, "", "Date as YYYY-MM-DD")
	cmd.Flags().String(flagStart, "", "Start as HH:MM[:SS] or seconds after midnight")
	cmd.Flags().String(flagEnd, "", "End as HH:MM[:SS] or seconds after midnight")
}

// slotRequest reads the slot flags into request fields. Date may be omitted
// when optional is true.
func slotRequest(cmd *cobra.Command, optional bool) (map[string]any, error) {
	request := map[string]any{}
	date, _ := cmd.Flags().GetString(flagDate)
	if date != "" || !optional {
		parsed, err := booking.NewDate(date)
		if err != nil {
			return nil, err
		}
		request["date"] = parsed.String()
	}
	for flag, field := range map[string]string{flagStart: "start_second", flagEnd: "end_second"} {
		raw, _ := cmd.Flags().GetString(flag)
		seconds, err := booking.ParseSecondOfDay(raw)
		if err != nil {
			return nil, err
		}
		request[field] = seconds
	}
	return request, nil
}

func newAvailabilityCommand(call callFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "availability",
		Short: "Show which resources are free for a slot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			request, err := slotRequest(cmd, false)
			if err != nil {
				return err
			}
			return call(cmd, grpcserver.MethodAvailability, request)
		},
	}
	addSlotFlags(cmd)
	return cmd
}

func newReserveCommand(call callFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reserve <resource-id>",
		Short: "Reserve a resource for a slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			request, err := slotRequest(cmd, false)
			if err != nil {
				return err
			}
			request["resource_id"] = args[0]
			if holder, _ := cmd.Flags().GetString(flagFor); holder != "" {
				request["holder_id"] = holder
			}
			return call(cmd, grpcserver.MethodCreateReservation, request)
		},
	}
	addSlotFlags(cmd)
	cmd.Flags().String(flagFor, "", "Reserve on behalf of another holder (admin)")
	return cmd
}

func newMoveCommand(call callFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "move <reservation-id>",
		Short: "Move a reservation that has not started",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			request, err := slotRequest(cmd, true)
			if err != nil {
				return err
			}
			request["reservation_id"] = args[0]
			if resource, _ := cmd.Flags().GetString(flagResource); resource != "" {
				request["resource_id"] = resource
			}
			return call(cmd, grpcserver.MethodUpdateReservation, request)
		},
	}
	addSlotFlags(cmd)
	cmd.Flags().String(flagResource, "", "New resource id")
	return cmd
}

func newCancelCommand(call callFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <reservation-id>",
		Short: "Cancel a reservation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, grpcserver.MethodCancelReservation, map[string]any{"reservation_id": args[0]})
		},
	}
}

func newActivateCommand(call callFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activate [reservation-id]",
		Short: "Check in to a reservation, or to the one in progress when no id is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, _ := cmd.Flags().GetString(flagToken)
			request := map[string]any{"token": token}
			if len(args) == 1 {
				request["reservation_id"] = args[0]
			}
			return call(cmd, grpcserver.MethodActivate, request)
		},
	}
	cmd.Flags().String(flagToken, "", "Activation token")
	return cmd
}

func newListCommand(call callFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reservations of a holder, or of a resource on a date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			request := map[string]any{}
			for flag, field := range map[string]string{flagResource: "resource_id", flagDate: "date", flagFor: "holder_id", flagFrom: "from"} {
				if value, _ := cmd.Flags().GetString(flag); value != "" {
					request[field] = value
				}
			}
			return call(cmd, grpcserver.MethodListReservations, request)
		},
	}
	cmd.Flags().String(flagResource, "", "Resource id (requires --date)")
	cmd.Flags().String(flagDate, "", "Date as YYYY-MM-DD")
	cmd.Flags().String(flagFor, "", "Holder id, defaults to the caller")
	cmd.Flags().String(flagFrom, "", "Earliest date as YYYY-MM-DD")
	return cmd
}

func newCurrentCommand(call callFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "current",
		Short: "Show the reservation in progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			request := map[string]any{}
			if holder, _ := cmd.Flags().GetString(flagFor); holder != "" {
				request["holder_id"] = holder
			}
			return call(cmd, grpcserver.MethodCurrentReservation, request)
		},
	}
	cmd.Flags().String(flagFor, "", "Holder id, defaults to the caller")
	return cmd
}

func newStatsCommand(call callFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show booking and visit totals per holder and resource (admin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, grpcserver.MethodStatistics, map[string]any{})
		},
	}
}
