package google

import (
	"context"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/napryag/doctor_booking_bot/pkg/utils/errs"
)

type Sheet struct {
	svc     *sheets.Service
	sheetID string
	rng     string
}

// NewSheet appends to rng (e.g. "Appointments!A1") of spreadsheet sheetID.
func NewSheet(ctx context.Context, sheetID, rng string, opts ...option.ClientOption) (*Sheet, error) {
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, errs.New("failed to create sheets service").Wrap(err)
	}
	return &Sheet{svc: svc, sheetID: sheetID, rng: rng}, nil
}

func (s *Sheet) AppendRow(ctx context.Context, values []any) error {
	vr := &sheets.ValueRange{Values: [][]any{values}}
	_, err := s.svc.Spreadsheets.Values.Append(s.sheetID, s.rng, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return errs.New("failed to append sheet row").Arg("sheet_id", s.sheetID).Wrap(err)
	}
	return nil
}
