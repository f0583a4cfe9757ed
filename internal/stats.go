package internal

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"referral-bot/models"
)

// referralColumns is the header shared by the CSV and Google Sheets exports
var referralColumns = []string{"referred_id", "referrer_id", "bank_key", "created_at"}

func referralRecord(ref models.Referral) []string {
	return []string{
		strconv.FormatInt(ref.ReferredID, 10),
		strconv.FormatInt(ref.ReferrerID, 10),
		ref.BankKey,
		ref.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// ReferralsCSV renders referrals with a header row. Rows keep the order of refs,
// which the store returns by creation time.
func ReferralsCSV(refs []models.Referral) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(referralColumns); err != nil {
		return nil, err
	}
	for _, ref := range refs {
		if err := w.Write(referralRecord(ref)); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("error writing csv: %w", err)
	}
	return buf.Bytes(), nil
}

// FormatSummary renders the stats message
func FormatSummary(stats *models.Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Всего пользователей: %d\n", stats.TotalUsers)
	fmt.Fprintf(&b, "Всего приглашений: %d\n", stats.TotalReferrals)

	b.WriteString("\nТоп-10 по приглашениям:\n")
	if len(stats.TopReferrers) == 0 {
		b.WriteString("- пока нет данных\n")
	}
	for _, row := range stats.TopReferrers {
		name := row.FirstName
		if row.Username != "" {
			name = "@" + row.Username
		}
		if name == "" {
			name = strconv.FormatInt(row.ReferrerID, 10)
		}
		fmt.Fprintf(&b, "- %s: %d\n", name, row.Count)
	}

	b.WriteString("\nПриглашения по банкам:\n")
	if len(stats.ReferralsByBank) == 0 {
		b.WriteString("- пока нет данных\n")
	}
	keys := make([]string, 0, len(stats.ReferralsByBank))
	for key := range stats.ReferralsByBank {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		ci, cj := stats.ReferralsByBank[keys[i]], stats.ReferralsByBank[keys[j]]
		if ci != cj {
			return ci > cj
		}
		return keys[i] < keys[j]
	})
	for _, key := range keys {
		fmt.Fprintf(&b, "- %s: %d\n", key, stats.ReferralsByBank[key])
	}

	fmt.Fprintf(&b, "\nЗаявки на вознаграждение: ожидают %d, одобрены %d, отклонены %d\n",
		stats.RewardsByStatus[models.RewardPending],
		stats.RewardsByStatus[models.RewardApproved],
		stats.RewardsByStatus[models.RewardRejected])

	return strings.TrimRight(b.String(), "\n")
}
