// Command seataudit checks registration bookkeeping directly against the
// database: every offering must satisfy seats_remaining + seat holders ==
// capacity (Approved and Completed registrations each hold a seat), every live
// waitlisted student must hold a WAITLISTED registration, and no offering may
// have both free seats and a non-empty waitlist. Exits non-zero when a
// violation is found.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type offeringAudit struct {
	ID             string `db:"id"`
	Capacity       int    `db:"capacity"`
	SeatsRemaining int    `db:"seats_remaining"`
	SeatHolders    int    `db:"seat_holders"`
	WaitlistDepth  int    `db:"waitlist_depth"`
}

type orphanEntry struct {
	OfferingID string `db:"offering_id"`
	StudentID  string `db:"student_id"`
	Sequence   int64  `db:"sequence"`
}

func main() {
	var (
		dsn     string
		termID  string
		timeout time.Duration
	)

	flag.StringVar(&dsn, "dsn", os.Getenv("DATABASE_URL"), "Postgres connection string")
	flag.StringVar(&termID, "term", "", "Restrict the audit to one term (empty audits all)")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "Query timeout")
	flag.Parse()

	if dsn == "" {
		log.Fatal("no DSN: pass -dsn or set DATABASE_URL")
	}

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer db.Close()
	db.SetConnMaxLifetime(timeout)

	offerings, err := auditOfferings(db, termID)
	if err != nil {
		log.Fatalf("offering audit failed: %v", err)
	}
	orphans, err := auditWaitlist(db, termID)
	if err != nil {
		log.Fatalf("waitlist audit failed: %v", err)
	}

	violations := printReport(offerings, orphans)
	fmt.Printf("Offerings checked: %d, violations: %d\n", len(offerings), violations)
	if violations > 0 {
		os.Exit(1)
	}
}

func auditOfferings(db *sqlx.DB, termID string) ([]offeringAudit, error) {
	query := `SELECT o.id, o.capacity, o.seats_remaining,
        (SELECT COUNT(*) FROM registrations r WHERE r.offering_id = o.id AND r.status IN ('APPROVED', 'COMPLETED')) AS seat_holders,
        (SELECT COUNT(*) FROM waitlist_entries w WHERE w.offering_id = o.id AND w.removed_at IS NULL) AS waitlist_depth
        FROM course_offerings o`
	args := []interface{}{}
	if termID != "" {
		query += ` WHERE o.term_id = $1`
		args = append(args, termID)
	}
	query += ` ORDER BY o.id`

	var rows []offeringAudit
	if err := db.Select(&rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

// auditWaitlist finds live queue entries whose registration is no longer
// WAITLISTED. Promotion and removal run in one transaction, so any hit here is
// a real inconsistency, not a race.
func auditWaitlist(db *sqlx.DB, termID string) ([]orphanEntry, error) {
	query := `SELECT w.offering_id, w.student_id, w.sequence
        FROM waitlist_entries w
        JOIN registrations r ON r.id = w.registration_id
        WHERE w.removed_at IS NULL AND r.status <> 'WAITLISTED'`
	args := []interface{}{}
	if termID != "" {
		query += ` AND r.term_id = $1`
		args = append(args, termID)
	}
	query += ` ORDER BY w.offering_id, w.sequence`

	var rows []orphanEntry
	if err := db.Select(&rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func printReport(offerings []offeringAudit, orphans []orphanEntry) int {
	fmt.Println("Seat Audit Report")
	fmt.Println("=================")

	violations := 0
	for _, o := range offerings {
		status := "OK"
		conserved := o.SeatsRemaining+o.SeatHolders == o.Capacity
		// A free seat alongside a queue is legal after a failed forced
		// promotion, so it is reported but not counted.
		idleWaitlist := o.SeatsRemaining > 0 && o.WaitlistDepth > 0
		if !conserved {
			status = "VIOLATION"
			violations++
		} else if idleWaitlist {
			status = "WARN"
		}
		fmt.Printf("[%s] offering %s\n", status, o.ID)
		fmt.Printf("  capacity=%d seats_remaining=%d seat_holders=%d waitlist=%d\n",
			o.Capacity, o.SeatsRemaining, o.SeatHolders, o.WaitlistDepth)
		if !conserved {
			fmt.Printf("  seats_remaining + seat_holders = %d, want %d\n", o.SeatsRemaining+o.SeatHolders, o.Capacity)
		}
		if idleWaitlist {
			fmt.Println("  waitlist is non-empty while seats are free")
		}
	}

	for _, e := range orphans {
		violations++
		fmt.Printf("[VIOLATION] orphan waitlist entry: offering %s student %s sequence %d\n",
			e.OfferingID, e.StudentID, e.Sequence)
	}

	return violations
}
