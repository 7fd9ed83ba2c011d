package sheets

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/networth-sync/internal/logger"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"
)

// SheetsClient is the concrete implementation of Service over the Sheets v4 API.
type SheetsClient struct {
	svc *sheetsapi.Service
}

// NewSheetsClient creates a client. Callers pass option.WithTokenSource for
// user credentials; with no options Application Default Credentials apply.
func NewSheetsClient(ctx context.Context, opts ...option.ClientOption) (*SheetsClient, error) {
	svc, err := sheetsapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewSheetsClient: %w", err)
	}
	return &SheetsClient{svc: svc}, nil
}

// ReadRange returns the formatted values of rng.
func (c *SheetsClient) ReadRange(ctx context.Context, spreadsheetID, rng string) ([][]interface{}, error) {
	resp, err := c.svc.Spreadsheets.Values.Get(spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, remoteError("read", rng, err)
	}

	log := logger.FromContext(ctx)
	log.Debug().
		Str("range", rng).
		Int("rows", len(resp.Values)).
		Msg("Read sheet range")
	return resp.Values, nil
}

// WriteRange updates rng with rows laid out by row.
func (c *SheetsClient) WriteRange(ctx context.Context, spreadsheetID, rng string, rows [][]interface{}, opts WriteOptions) error {
	mode := opts.InputMode
	if mode == "" {
		mode = UserEntered
	}

	body := &sheetsapi.ValueRange{
		Range:          rng,
		MajorDimension: "ROWS",
		Values:         rows,
	}
	resp, err := c.svc.Spreadsheets.Values.Update(spreadsheetID, rng, body).
		ValueInputOption(string(mode)).
		Context(ctx).
		Do()
	if err != nil {
		return remoteError("write", rng, err)
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("range", resp.UpdatedRange).
		Int64("updated_rows", resp.UpdatedRows).
		Int64("updated_cells", resp.UpdatedCells).
		Msg("Wrote sheet range")
	return nil
}

// ClearRange empties rng.
func (c *SheetsClient) ClearRange(ctx context.Context, spreadsheetID, rng string) error {
	resp, err := c.svc.Spreadsheets.Values.Clear(spreadsheetID, rng, &sheetsapi.ClearValuesRequest{}).Context(ctx).Do()
	if err != nil {
		return remoteError("clear", rng, err)
	}

	log := logger.FromContext(ctx)
	log.Info().Str("range", resp.ClearedRange).Msg("Cleared sheet range")
	return nil
}

func remoteError(op, rng string, err error) error {
	e := &RemoteError{Op: op, Range: rng, Err: err}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		e.StatusCode = apiErr.Code
	}
	return e
}
