package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/shopspring/decimal"
)

const (
	colorPurchase   = 0x2ECC71
	colorRedemption = 0x5865F2
	colorChangelog  = 0x9B59B6
	colorSyncOK     = 0x1ABC9C
	colorSyncFailed = 0xE74C3C
)

// Purchase describes a paid order
type Purchase struct {
	OrderID  string
	Product  string
	Email    string
	Quantity int
	Total    decimal.Decimal
	Currency string
	Serials  []string
	At       time.Time
}

// Redemption describes a claimed serial
type Redemption struct {
	Serial    string
	DiscordID string
	OrderID   string
	Reseller  string
	// ExpiresAt is unix seconds, -1 for lifetime.
	ExpiresAt int64
	At        time.Time
}

// SyncReport summarizes a full sync run
type SyncReport struct {
	Batches  int
	Rows     int64
	Duration time.Duration
	Err      error
	At       time.Time
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339)
}

// FormatExpiry renders an upstream expiry for humans
func FormatExpiry(expiresAt int64) string {
	if expiresAt == -1 {
		return "Lifetime"
	}
	return fmt.Sprintf("<t:%d:F>", expiresAt)
}

// PurchaseEmbed builds the purchase notification
func PurchaseEmbed(p Purchase) *discordgo.MessageEmbed {
	currency := p.Currency
	if currency == "" {
		currency = "USD"
	}
	unit := decimal.Zero
	if p.Quantity > 0 {
		unit = p.Total.Div(decimal.NewFromInt(int64(p.Quantity)))
	}

	return &discordgo.MessageEmbed{
		Title:       "New purchase",
		Color:       colorPurchase,
		Description: fmt.Sprintf("Order `%s`", p.OrderID),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Product", Value: p.Product, Inline: true},
			{Name: "Quantity", Value: fmt.Sprintf("%d", p.Quantity), Inline: true},
			{Name: "Total", Value: p.Total.StringFixed(2) + " " + currency, Inline: true},
			{Name: "Unit price", Value: unit.StringFixed(2) + " " + currency, Inline: true},
			{Name: "Keys issued", Value: fmt.Sprintf("%d", len(p.Serials)), Inline: true},
		},
		Timestamp: timestamp(p.At),
	}
}

// RedemptionEmbed builds the reseller redemption notification
func RedemptionEmbed(r Redemption) *discordgo.MessageEmbed {
	fields := []*discordgo.MessageEmbedField{
		{Name: "Account", Value: fmt.Sprintf("<@%s>", r.DiscordID), Inline: true},
		{Name: "Expires", Value: FormatExpiry(r.ExpiresAt), Inline: true},
	}
	if r.Reseller != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Reseller", Value: r.Reseller, Inline: true})
	}
	if r.OrderID != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Order", Value: r.OrderID, Inline: true})
	}

	return &discordgo.MessageEmbed{
		Title:       "Key redeemed",
		Color:       colorRedemption,
		Description: fmt.Sprintf("Serial `%s`", r.Serial),
		Fields:      fields,
		Timestamp:   timestamp(r.At),
	}
}

// ChangelogEmbed builds a release announcement; each change becomes a bullet
func ChangelogEmbed(version string, changes []string, at time.Time) *discordgo.MessageEmbed {
	var sb strings.Builder
	for _, c := range changes {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		sb.WriteString("• ")
		sb.WriteString(c)
		sb.WriteString("\n")
	}

	return &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("Changelog %s", version),
		Color:       colorChangelog,
		Description: strings.TrimSuffix(sb.String(), "\n"),
		Timestamp:   timestamp(at),
	}
}

// SyncEmbed builds the sync run report
func SyncEmbed(r SyncReport) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: "Subscription sync complete",
		Color: colorSyncOK,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Batches", Value: fmt.Sprintf("%d", r.Batches), Inline: true},
			{Name: "Rows written", Value: fmt.Sprintf("%d", r.Rows), Inline: true},
			{Name: "Duration", Value: r.Duration.Round(time.Millisecond).String(), Inline: true},
		},
		Timestamp: timestamp(r.At),
	}
	if r.Err != nil {
		embed.Title = "Subscription sync failed"
		embed.Color = colorSyncFailed
		embed.Description = r.Err.Error()
	}
	return embed
}
