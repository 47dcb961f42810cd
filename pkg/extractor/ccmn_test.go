package extractor_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"aluwatch/pkg/db/models"
	"aluwatch/pkg/extractor"
)

const quotePage = `<html><body>
<table>
<tr><th>品名</th><th>价格范围</th><th>均价</th><th>涨跌</th><th>单位</th><th>日期</th></tr>
<tr><td>A00铝</td><td>20290-20330</td><td>20,310</td><td>+100</td><td>元/吨</td><td>2025-05-21</td></tr>
<tr><td>氧化铝</td><td>3150-3180</td><td>3165</td><td>-15</td><td>元/吨</td><td>2025-05-21</td></tr>
</table>
</body></html>`

var _ = Describe("CCMNExtractor", func() {
	var (
		ex  *extractor.CCMNExtractor
		ctx context.Context
	)

	task := func(url, matchKey string) models.SourceTask {
		return models.SourceTask{Name: matchKey, URL: url, MatchKey: matchKey}
	}

	BeforeEach(func() {
		logger := logrus.New()
		logger.SetLevel(logrus.ErrorLevel)
		ex = extractor.NewCCMNExtractor(logger)
		ctx = context.Background()
	})

	Context("Extract", func() {
		It("extracts the row matching the key", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(quotePage))
			}))
			defer server.Close()

			record, err := ex.Extract(ctx, task(server.URL, "A00铝"))
			Expect(err).NotTo(HaveOccurred())
			Expect(record.Name).To(Equal("A00铝"))
			Expect(record.PriceRange).To(Equal("20290-20330"))
			Expect(record.AvgPrice).To(Equal(20310.0))
			Expect(record.Change).To(Equal(100.0))
			Expect(record.Unit).To(Equal("元/吨"))
			Expect(record.PriceDate).To(Equal(20250521))
		})

		It("returns ErrNoMatch when the page loads but no row matches", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(quotePage))
			}))
			defer server.Close()

			_, err := ex.Extract(ctx, task(server.URL, "A00锌"))
			Expect(err).To(MatchError(extractor.ErrNoMatch))
		})

		It("fails on a non-2xx response", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			}))
			defer server.Close()

			_, err := ex.Extract(ctx, task(server.URL, "A00铝"))
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("unexpected status 503"))
		})

		It("fails when the matching row has an unreadable date", func() {
			page := `<table><tr>
<td>A00铝</td><td>20290-20330</td><td>20310</td><td>100</td><td>元/吨</td><td>soon</td>
</tr></table>`
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(page))
			}))
			defer server.Close()

			_, err := ex.Extract(ctx, task(server.URL, "A00铝"))
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("date column is unreadable"))
		})

		It("treats an unreadable price cell as zero, not a failure", func() {
			page := `<table><tr>
<td>A00铝</td><td>--</td><td>n/a</td><td>--</td><td>元/吨</td><td>2025-05-21</td>
</tr></table>`
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(page))
			}))
			defer server.Close()

			record, err := ex.Extract(ctx, task(server.URL, "A00铝"))
			Expect(err).NotTo(HaveOccurred())
			Expect(record.AvgPrice).To(Equal(0.0))
			Expect(record.Anomalous()).To(BeTrue())
		})
	})

	Context("NormalizeDayKey", func() {
		now := time.Date(2025, time.May, 21, 10, 0, 0, 0, time.UTC)

		It("parses full dates in several notations", func() {
			for _, token := range []string{"2025-05-21", "2025/5/21", "2025.05.21", "2025年5月21日", "20250521"} {
				key, err := extractor.NormalizeDayKey(token, now)
				Expect(err).NotTo(HaveOccurred(), "token %q", token)
				Expect(key).To(Equal(20250521), "token %q", token)
			}
		})

		It("completes yearless tokens with the current year", func() {
			for _, token := range []string{"05/21", "5月21日", "0521", "5-21"} {
				key, err := extractor.NormalizeDayKey(token, now)
				Expect(err).NotTo(HaveOccurred(), "token %q", token)
				Expect(key).To(Equal(20250521), "token %q", token)
			}
		})

		It("rejects empty and unrecognized tokens", func() {
			for _, token := range []string{"", "soon", "2025-13-01", "0532"} {
				_, err := extractor.NormalizeDayKey(token, now)
				Expect(err).To(HaveOccurred(), "token %q", token)
			}
		})
	})
})
