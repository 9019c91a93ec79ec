package campaign

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
)

type budgetLine struct {
	Category string
	Percent  int
	Notes    string
}

var budgetAllocation = []budgetLine{
	{"Digital Advertising", 30, "Facebook, Instagram, Pinterest Ads"},
	{"AI Design Generation", 20, "Replicate API credits, design iterations"},
	{"Content Creation (Mockups/Videos)", 15, "Product mockups, collection videos"},
	{"Social Media Management", 15, "Community mgmt, design showcases"},
	{"Influencer/Aesthetic Communities", 5, "Design-focused influencer collabs"},
	{"Printify/Shopify Tools", 5, "Printify Premium, Shopify apps"},
	{"Design Assets & Templates", 5, "Mockup generators, templates"},
	{"Contingency Fund", 5, "Buffer for testing/optimization"},
}

// Weekdays in schedule order.
var weekdays = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

var postTypes = map[string]string{
	"Monday":    "Design Reveal",
	"Tuesday":   "Product Mockup (show design on mug/shirt)",
	"Wednesday": "Design Story/Inspiration",
	"Thursday":  "Collection Preview",
	"Friday":    "Shop The Collection CTA",
	"Saturday":  "Lifestyle Shot (design in use)",
	"Sunday":    "Community Poll (favorite design)",
}

// optimalTimes are the posting slots per supported platform.
var optimalTimes = map[string]string{
	"facebook":  "12:00 PM",
	"twitter":   "10:00 AM",
	"instagram": "3:00 PM",
	"linkedin":  "11:00 AM",
	"tiktok":    "7:00 PM",
	"pinterest": "8:00 PM",
}

var platformNames = map[string]string{
	"facebook":  "Facebook",
	"twitter":   "Twitter",
	"instagram": "Instagram",
	"linkedin":  "LinkedIn",
	"tiktok":    "TikTok",
	"pinterest": "Pinterest",
}

// SchedulePost is one row of the social media schedule.
type SchedulePost struct {
	Week     int    `json:"week"`
	Day      string `json:"day"`
	Platform string `json:"platform"`
	Time     string `json:"time"`
	PostType string `json:"postType"`
	Theme    string `json:"theme"`
	Hashtags string `json:"hashtags"`
	Status   string `json:"status"`
}

// BudgetSheet renders the marketing budget split as CSV.
func BudgetSheet(budget float64) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	rows := [][]string{{"Category", "Allocation %", "Amount", "Notes"}}
	for _, line := range budgetAllocation {
		rows = append(rows, []string{
			line.Category,
			fmt.Sprintf("%d", line.Percent),
			fmt.Sprintf("%.2f", budget*float64(line.Percent)/100),
			line.Notes,
		})
	}
	rows = append(rows, []string{"Total", "100", fmt.Sprintf("%.2f", budget), "Total Marketing Budget (NO manufacturing)"})
	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("write budget sheet: %w", err)
	}
	return buf.Bytes(), nil
}

// Schedule plans one post per day, platform and week. Platforms without a
// known posting slot are skipped.
func Schedule(platforms []string, weeks int) []SchedulePost {
	var posts []SchedulePost
	for week := 1; week <= weeks; week++ {
		for _, day := range weekdays {
			for _, p := range platforms {
				key := strings.ToLower(strings.TrimSpace(p))
				slot, ok := optimalTimes[key]
				if !ok {
					continue
				}
				postType := postTypes[day]
				posts = append(posts, SchedulePost{
					Week:     week,
					Day:      day,
					Platform: platformNames[key],
					Time:     slot,
					PostType: postType,
					Theme:    fmt.Sprintf("Week %d - %s", week, postType),
					Hashtags: fmt.Sprintf("#campaign #week%d", week),
					Status:   "Planned",
				})
			}
		}
	}
	return posts
}

// ScheduleSheet renders posts as CSV.
func ScheduleSheet(posts []SchedulePost) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"Week", "Day", "Platform", "Time", "Post Type", "Content Theme", "Hashtags", "Status"}); err != nil {
		return nil, err
	}
	for _, p := range posts {
		if err := w.Write([]string{fmt.Sprintf("%d", p.Week), p.Day, p.Platform, p.Time, p.PostType, p.Theme, p.Hashtags, p.Status}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("write schedule sheet: %w", err)
	}
	return buf.Bytes(), nil
}

// summarizeSchedule is the plain-text view handed to the editor model.
func summarizeSchedule(posts []SchedulePost, limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Social media schedule with %d posts:\n", len(posts))
	for i, p := range posts {
		if i == limit {
			fmt.Fprintf(&b, "... %d more\n", len(posts)-limit)
			break
		}
		fmt.Fprintf(&b, "Week %d %s %s %s: %s\n", p.Week, p.Day, p.Platform, p.Time, p.PostType)
	}
	return b.String()
}

func summarizeBudget(budget float64) string {
	var b strings.Builder
	for _, line := range budgetAllocation {
		fmt.Fprintf(&b, "%-36s %3d%% %10.2f  %s\n", line.Category, line.Percent, budget*float64(line.Percent)/100, line.Notes)
	}
	fmt.Fprintf(&b, "%-36s %3d%% %10.2f\n", "Total", 100, budget)
	return b.String()
}
