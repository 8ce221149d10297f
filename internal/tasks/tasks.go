package tasks

// TypeHistoryExport asks the worker to write a user's full transaction
// history to a CSV file.
const TypeHistoryExport = "history:export"

// HistoryExportPayload is the queue payload for TypeHistoryExport.
type HistoryExportPayload struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}
