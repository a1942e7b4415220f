package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	repository "github.com/ds124wfegd/library-reservations/internal/database/postgres"
)

const (
	codePrefix     = "RS"
	codeDateLayout = "20060102"
	maxCodeSeq     = 9999
)

var errCodeSpaceExhausted = errors.New("reservation code sequence exhausted for the day")

// FormatReservationCode builds RS-yyyyMMdd-NNNN for the calendar day of t.
func FormatReservationCode(t time.Time, seq int) string {
	return fmt.Sprintf("%s-%s-%04d", codePrefix, t.Format(codeDateLayout), seq)
}

// ParseReservationCode splits a code into its date segment and sequence.
func ParseReservationCode(code string) (day string, seq int, ok bool) {
	parts := strings.Split(code, "-")
	if len(parts) != 3 || parts[0] != codePrefix || len(parts[1]) != len(codeDateLayout) {
		return "", 0, false
	}
	if _, err := time.Parse(codeDateLayout, parts[1]); err != nil {
		return "", 0, false
	}

	n, err := strconv.Atoi(parts[2])
	if err != nil || n < 0 {
		return "", 0, false
	}
	return parts[1], n, true
}

// NextSequenceFromPool returns one past the highest sequence issued on day.
// Codes from other days and malformed codes are ignored.
func NextSequenceFromPool(pool []string, day time.Time) int {
	want := day.Format(codeDateLayout)
	highest := 0
	for _, code := range pool {
		d, seq, ok := ParseReservationCode(code)
		if ok && d == want && seq > highest {
			highest = seq
		}
	}
	return highest + 1
}

// CodeGenerator hands out pickup codes. The persisted codes of the day and the
// codes already issued in the running batch seed a per-day database counter,
// which makes concurrent callers receive distinct values.
type CodeGenerator struct {
	repo repository.ReservationRepository
	loc  *time.Location
}

func NewCodeGenerator(repo repository.ReservationRepository, loc *time.Location) *CodeGenerator {
	if loc == nil {
		loc = time.UTC
	}
	return &CodeGenerator{repo: repo, loc: loc}
}

func (g *CodeGenerator) Next(ctx context.Context, now time.Time, batchPool []string) (string, error) {
	day := now.In(g.loc)
	prefix := fmt.Sprintf("%s-%s-", codePrefix, day.Format(codeDateLayout))

	persisted, err := g.repo.ListCodesWithPrefix(ctx, prefix)
	if err != nil {
		return "", err
	}

	pool := make([]string, 0, len(persisted)+len(batchPool))
	pool = append(pool, persisted...)
	pool = append(pool, batchPool...)

	seq, err := g.repo.NextCodeSequence(ctx, day, NextSequenceFromPool(pool, day))
	if err != nil {
		return "", err
	}
	if seq > maxCodeSeq {
		return "", errCodeSpaceExhausted
	}

	return FormatReservationCode(day, seq), nil
}
