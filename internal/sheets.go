package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"referral-bot/config"
	"referral-bot/models"
)

// SheetsService exports referrals to a Google Sheets spreadsheet
type SheetsService struct {
	service       *sheets.Service
	spreadsheetID string
	sheet         string
}

// NewSheetsService creates the Sheets client from a service account key or
// from OAuth client credentials plus a previously saved token.
func NewSheetsService(ctx context.Context, cfg config.SheetsConfig) (*SheetsService, error) {
	b, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	client, err := sheetsHTTPClient(ctx, b, cfg.TokenFile)
	if err != nil {
		return nil, err
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Sheets client: %w", err)
	}

	return &SheetsService{service: srv, spreadsheetID: cfg.SpreadsheetID, sheet: cfg.Sheet}, nil
}

func sheetsHTTPClient(ctx context.Context, credentials []byte, tokenFile string) (*http.Client, error) {
	var kind struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(credentials, &kind); err != nil {
		return nil, fmt.Errorf("unable to parse credentials file: %w", err)
	}

	if kind.Type == "service_account" {
		jwtConfig, err := google.JWTConfigFromJSON(credentials, sheets.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("unable to parse service account key: %w", err)
		}
		return jwtConfig.Client(ctx), nil
	}

	oauthConfig, err := google.ConfigFromJSON(credentials, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	tok, err := tokenFromFile(tokenFile)
	if err != nil {
		// the bot runs unattended, so the token has to be obtained beforehand
		authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
		return nil, fmt.Errorf("no oauth token in %s, authorize at %s: %w", tokenFile, authURL, err)
	}
	return oauthConfig.Client(ctx, tok), nil
}

// tokenFromFile loads a saved OAuth token
func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

func referralValues(refs []models.Referral) [][]interface{} {
	rows := make([][]interface{}, 0, len(refs))
	for _, ref := range refs {
		record := referralRecord(ref)
		row := make([]interface{}, len(record))
		for i, v := range record {
			row[i] = v
		}
		rows = append(rows, row)
	}
	return rows
}

func headerValues() []interface{} {
	row := make([]interface{}, len(referralColumns))
	for i, v := range referralColumns {
		row[i] = v
	}
	return row
}

// AppendReferral adds a single referral as the next row of the sheet
func (s *SheetsService) AppendReferral(ctx context.Context, ref models.Referral) error {
	valueRange := &sheets.ValueRange{Values: referralValues([]models.Referral{ref})}

	_, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, s.sheet+"!A:D", valueRange).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("unable to append referral to sheet: %w", err)
	}
	return nil
}

// ExportReferrals replaces the sheet content with a header and all referrals
func (s *SheetsService) ExportReferrals(ctx context.Context, refs []models.Referral) error {
	_, err := s.service.Spreadsheets.Values.Clear(s.spreadsheetID, s.sheet+"!A:D", &sheets.ClearValuesRequest{}).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("unable to clear sheet: %w", err)
	}

	values := append([][]interface{}{headerValues()}, referralValues(refs)...)
	valueRange := &sheets.ValueRange{Values: values}

	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, s.sheet+"!A1", valueRange).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("unable to write data to sheet: %w", err)
	}
	return nil
}
