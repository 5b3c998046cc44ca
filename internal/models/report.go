package models

// MinCreditReportRow is one line of the term-close minimum-credit report.
// Minimum enforcement is a reporting concern, never a per-request rejection:
// students legitimately sit below the minimum while building a schedule.
type MinCreditReportRow struct {
	StudentID       string `db:"student_id" json:"student_id"`
	StudentNumber   string `db:"student_number" json:"student_number"`
	StudentName     string `db:"student_name" json:"student_name"`
	EnrolledCredits int    `db:"enrolled_credits" json:"enrolled_credits"`
	MinCredits      int    `db:"min_credits" json:"min_credits"`
}

// ReportFormat selects the rendered output of a report export.
type ReportFormat string

const (
	ReportFormatCSV ReportFormat = "csv"
	ReportFormatPDF ReportFormat = "pdf"
)
