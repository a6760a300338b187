package model

import (
	"database/sql"
	"time"
)

// FlexCredential stores a user's IBKR Flex Web Service token and query id.
// One row per user, replaced wholesale on update.
type FlexCredential struct {
	UserID    int64     `json:"user_id"`
	Token     string    `json:"-"`
	QueryID   string    `json:"query_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FlexReport stores the raw XML of the last successfully fetched report.
type FlexReport struct {
	UserID    int64     `json:"user_id"`
	RawXML    string    `json:"-"`
	FetchedAt time.Time `json:"fetched_at"`
}

func GetFlexCredential(db *sql.DB, userID int64) (*FlexCredential, error) {
	query := `
	SELECT user_id, token, query_id, updated_at
	FROM flex_credentials
	WHERE user_id = ?`
	row := db.QueryRow(query, userID)

	var cred FlexCredential
	err := row.Scan(&cred.UserID, &cred.Token, &cred.QueryID, &cred.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

func UpsertFlexCredential(db *sql.DB, cred *FlexCredential) error {
	cred.UpdatedAt = time.Now()
	query := `
	INSERT INTO flex_credentials (user_id, token, query_id, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET token = excluded.token, query_id = excluded.query_id, updated_at = excluded.updated_at`
	stmt, err := db.Prepare(query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	_, err = stmt.Exec(cred.UserID, cred.Token, cred.QueryID, cred.UpdatedAt)
	return err
}

func GetFlexReport(db *sql.DB, userID int64) (*FlexReport, error) {
	query := `
	SELECT user_id, raw_xml, fetched_at
	FROM flex_reports
	WHERE user_id = ?`
	row := db.QueryRow(query, userID)

	var report FlexReport
	err := row.Scan(&report.UserID, &report.RawXML, &report.FetchedAt)
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func UpsertFlexReport(db *sql.DB, report *FlexReport) error {
	report.FetchedAt = time.Now()
	query := `
	INSERT INTO flex_reports (user_id, raw_xml, fetched_at)
	VALUES (?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET raw_xml = excluded.raw_xml, fetched_at = excluded.fetched_at`
	stmt, err := db.Prepare(query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	_, err = stmt.Exec(report.UserID, report.RawXML, report.FetchedAt)
	return err
}
