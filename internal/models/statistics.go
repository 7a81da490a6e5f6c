package models

// LedgerCounts holds a verified/total pair.
type LedgerCounts struct {
	Total              int `db:"total" json:"total"`
	Verified           int `db:"verified" json:"verified"`
	VerifiedPercentage int `db:"-" json:"verified_percentage"`
}

// LedgerCallStats is an in-process snapshot of ledger dispatches since start.
type LedgerCallStats struct {
	Attempted int64 `json:"attempted"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	TimedOut  int64 `json:"timed_out"`
	Late      int64 `json:"late"`
	Queued    int   `json:"queued"`
}

// LedgerStatistics is the reporter output for teachers and admins.
type LedgerStatistics struct {
	Lectures      LedgerCounts             `json:"lectures"`
	Sessions      LedgerCounts             `json:"sessions"`
	Records       LedgerCounts             `json:"records"`
	RecentRecords []AttendanceRecordDetail `json:"recent_records"`
	LedgerCalls   LedgerCallStats          `json:"ledger_calls"`
	LedgerStatus  *LedgerStatus            `json:"ledger_status,omitempty"`
}

// LedgerStatus describes connectivity to the ledger gateway.
type LedgerStatus struct {
	Connected bool   `json:"connected"`
	Simulated bool   `json:"simulated"`
	Endpoint  string `json:"endpoint,omitempty"`
	Message   string `json:"message,omitempty"`
}
