package extractor

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"aluwatch/pkg/db/models"
)

const (
	// defaultUserAgent identifies the watcher to the quote site
	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

	// defaultRequestTimeout bounds a single page fetch
	defaultRequestTimeout = 30 * time.Second

	// scrapeRateLimit spaces out page fetches so retry cycles stay polite
	scrapeRateLimit = rate.Limit(0.5)
	scrapeRateBurst = 1
)

// CCMNExtractor scrapes a quotation table page and extracts the row
// whose first cell matches the task's match key. The expected row shape
// is: name | price range | average price | change | unit | date.
type CCMNExtractor struct {
	client  *resty.Client
	limiter *rate.Limiter
	logger  *logrus.Logger

	// now is swappable in tests; the day-of-month token on the page
	// carries no year, so the current local year completes the key
	now func() time.Time
}

// NewCCMNExtractor creates an extractor with its own HTTP client and
// rate limiter.
func NewCCMNExtractor(logger *logrus.Logger) *CCMNExtractor {
	if logger == nil {
		logger = logrus.New()
	}

	client := resty.New().
		SetTimeout(defaultRequestTimeout).
		SetHeader("User-Agent", defaultUserAgent)

	return &CCMNExtractor{
		client:  client,
		limiter: rate.NewLimiter(scrapeRateLimit, scrapeRateBurst),
		logger:  logger,
		now:     time.Now,
	}
}

// Extract fetches the task URL and scans its tables for the match key.
// It returns ErrNoMatch when the page loads but no row matches.
func (e *CCMNExtractor) Extract(ctx context.Context, task models.SourceTask) (*models.PriceRecord, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter interrupted: %w", err)
	}

	log := e.logger.WithFields(logrus.Fields{
		"source": task.Name,
		"url":    task.URL,
	})
	log.Debug("Fetching source page")

	resp, err := e.client.R().SetContext(ctx).Get(task.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", task.URL, err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode(), task.URL)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(resp.String()))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page from %s: %w", task.URL, err)
	}

	record, err := e.extractRow(doc, task)
	if err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"price_date": record.PriceDate,
		"avg_price":  record.AvgPrice,
	}).Debug("Extracted price record")
	return record, nil
}

// extractRow scans every table row for the match key and normalizes the
// first matching one.
func (e *CCMNExtractor) extractRow(doc *goquery.Document, task models.SourceTask) (*models.PriceRecord, error) {
	var record *models.PriceRecord
	var parseErr error

	doc.Find("table tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		cells := row.Find("td")
		if cells.Length() < 6 {
			return true
		}

		name := strings.TrimSpace(cells.Eq(0).Text())
		if !strings.Contains(name, task.MatchKey) {
			return true
		}

		dateKey, err := NormalizeDayKey(strings.TrimSpace(cells.Eq(5).Text()), e.now())
		if err != nil {
			parseErr = fmt.Errorf("row matched but date column is unreadable: %w", err)
			return false
		}

		record = &models.PriceRecord{
			Name:       name,
			PriceRange: strings.TrimSpace(cells.Eq(1).Text()),
			AvgPrice:   parseNumber(cells.Eq(2).Text()),
			Change:     parseNumber(cells.Eq(3).Text()),
			Unit:       strings.TrimSpace(cells.Eq(4).Text()),
			PriceDate:  dateKey,
		}
		return false
	})

	if parseErr != nil {
		return nil, parseErr
	}
	if record == nil {
		return nil, ErrNoMatch
	}
	return record, nil
}

// parseNumber reads a numeric cell. An unreadable or empty cell yields
// zero, which downstream treats as an anomaly rather than a fetch
// failure: the row itself was present and matched.
func parseNumber(raw string) float64 {
	cleaned := strings.NewReplacer(",", "", "+", "", "%", "", " ", "").Replace(strings.TrimSpace(raw))
	if cleaned == "" || cleaned == "-" {
		return 0
	}
	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return value
}

var (
	fullDatePattern     = regexp.MustCompile(`^(\d{4})[-/.年](\d{1,2})[-/.月](\d{1,2})日?$`)
	monthDayPattern     = regexp.MustCompile(`^(\d{1,2})[-/.月](\d{1,2})日?$`)
	compactDatePattern  = regexp.MustCompile(`^\d{8}$`)
	compactShortPattern = regexp.MustCompile(`^\d{4}$`)
)

// NormalizeDayKey turns a raw date token from the page into a YYYYMMDD
// day key. Tokens without a year ("05/21", "5月21日", "0521") are
// completed with the current local year.
func NormalizeDayKey(raw string, now time.Time) (int, error) {
	token := strings.TrimSpace(raw)
	if token == "" {
		return 0, fmt.Errorf("empty date token")
	}

	if m := fullDatePattern.FindStringSubmatch(token); m != nil {
		return composeDayKey(atoi(m[1]), atoi(m[2]), atoi(m[3]))
	}
	if m := monthDayPattern.FindStringSubmatch(token); m != nil {
		return composeDayKey(now.Year(), atoi(m[1]), atoi(m[2]))
	}
	if compactDatePattern.MatchString(token) {
		return composeDayKey(atoi(token[:4]), atoi(token[4:6]), atoi(token[6:]))
	}
	if compactShortPattern.MatchString(token) {
		return composeDayKey(now.Year(), atoi(token[:2]), atoi(token[2:]))
	}

	return 0, fmt.Errorf("unrecognized date token %q", raw)
}

func composeDayKey(year, month, day int) (int, error) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return 0, fmt.Errorf("implausible date %04d-%02d-%02d", year, month, day)
	}
	return year*10000 + month*100 + day, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
