package adminapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"aluwatch/internal/adminapi"
	"aluwatch/pkg/alerting"
	"aluwatch/pkg/daykey"
	"aluwatch/pkg/db/models"
	"aluwatch/pkg/pricestore"
	"aluwatch/pkg/registry"
	"aluwatch/pkg/watch"
)

type fakeStatus struct {
	status watch.Status
}

func (f *fakeStatus) CurrentStatus() watch.Status {
	return f.status
}

type fakeDeliverer struct {
	err       error
	delivered []*models.PriceRecord
}

func (f *fakeDeliverer) DeliverRecord(ctx context.Context, record *models.PriceRecord) error {
	if f.err != nil {
		return f.err
	}
	f.delivered = append(f.delivered, record)
	return nil
}

func openTestDB() *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	Expect(err).NotTo(HaveOccurred())
	Expect(gdb.AutoMigrate(&models.SourceTask{}, &models.PriceRecord{}, &models.Alert{})).To(Succeed())
	return gdb
}

var _ = Describe("Admin API", func() {
	var (
		router    *gin.Engine
		reg       *registry.Registry
		store     *pricestore.Store
		engine    *alerting.Engine
		status    *fakeStatus
		deliverer *fakeDeliverer
		ctx       context.Context
	)

	do := func(method, path string, body interface{}) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			Expect(json.NewEncoder(&buf).Encode(body)).To(Succeed())
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, req)
		return recorder
	}

	decode := func(recorder *httptest.ResponseRecorder) map[string]interface{} {
		var payload map[string]interface{}
		Expect(json.Unmarshal(recorder.Body.Bytes(), &payload)).To(Succeed())
		return payload
	}

	BeforeEach(func() {
		logger := logrus.New()
		logger.SetLevel(logrus.ErrorLevel)

		gdb := openTestDB()
		reg = registry.New(gdb, logger)
		store = pricestore.New(gdb, logger)
		engine = alerting.New(gdb, nil, 3, logger)
		status = &fakeStatus{status: watch.Status{DeliveredToday: true, Today: 20250521}}
		deliverer = &fakeDeliverer{}
		ctx = context.Background()

		Expect(reg.EnsurePrimary(ctx)).To(Succeed())

		router = gin.New()
		adminapi.SetupRoutes(router, reg, store, engine, status, deliverer, logger)
	})

	Context("GET /tasks", func() {
		It("lists registered tasks", func() {
			recorder := do(http.MethodGet, "/tasks", nil)
			Expect(recorder.Code).To(Equal(http.StatusOK))

			payload := decode(recorder)
			Expect(payload["success"]).To(BeTrue())
			tasks := payload["tasks"].([]interface{})
			Expect(tasks).To(HaveLen(1))
		})
	})

	Context("POST /tasks", func() {
		It("creates a task", func() {
			recorder := do(http.MethodPost, "/tasks", gin.H{
				"name":     "LME铝",
				"url":      "https://example.com/lme",
				"selector": "LME铝",
			})
			Expect(recorder.Code).To(Equal(http.StatusOK))

			task, err := reg.Get(ctx, "LME铝")
			Expect(err).NotTo(HaveOccurred())
			Expect(task.URL).To(Equal("https://example.com/lme"))
		})

		It("rejects a duplicate name with 409", func() {
			recorder := do(http.MethodPost, "/tasks", gin.H{
				"name":     registry.PrimarySourceName,
				"url":      "https://example.com",
				"selector": "A00",
			})
			Expect(recorder.Code).To(Equal(http.StatusConflict))
		})

		It("rejects missing fields with 400", func() {
			recorder := do(http.MethodPost, "/tasks", gin.H{"name": "LME铝"})
			Expect(recorder.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Context("PUT /tasks", func() {
		It("renames a task via oldName", func() {
			recorder := do(http.MethodPut, "/tasks", gin.H{
				"oldName":  registry.PrimarySourceName,
				"name":     "A00铝锭",
				"url":      "https://www.ccmn.cn/",
				"selector": "A00",
			})
			Expect(recorder.Code).To(Equal(http.StatusOK))

			_, err := reg.Get(ctx, registry.PrimarySourceName)
			Expect(err).To(MatchError(registry.ErrTaskNotFound))

			task, err := reg.Get(ctx, "A00铝锭")
			Expect(err).NotTo(HaveOccurred())
			Expect(task.MatchKey).To(Equal("A00"))
		})

		It("returns 404 for an unknown task", func() {
			recorder := do(http.MethodPut, "/tasks", gin.H{
				"oldName":  "nope",
				"name":     "nope",
				"url":      "https://example.com",
				"selector": "x",
			})
			Expect(recorder.Code).To(Equal(http.StatusNotFound))
		})
	})

	Context("DELETE /tasks", func() {
		It("deletes a secondary task", func() {
			Expect(reg.Create(ctx, &models.SourceTask{Name: "LME铝", URL: "https://example.com", MatchKey: "LME铝"})).To(Succeed())

			recorder := do(http.MethodDelete, "/tasks", gin.H{"name": "LME铝"})
			Expect(recorder.Code).To(Equal(http.StatusOK))
		})

		It("refuses to delete the primary source with 403 and keeps it registered", func() {
			recorder := do(http.MethodDelete, "/tasks", gin.H{"name": registry.PrimarySourceName})
			Expect(recorder.Code).To(Equal(http.StatusForbidden))

			payload := decode(recorder)
			Expect(payload["message"]).To(ContainSubstring("cannot be deleted"))

			_, err := reg.Get(ctx, registry.PrimarySourceName)
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Context("records", func() {
		today := daykey.FromTime(time.Now())

		BeforeEach(func() {
			Expect(store.Append(ctx, &models.PriceRecord{
				Name: "A00铝", PriceRange: "20290-20330", AvgPrice: 20310, Change: 100, Unit: "元/吨", PriceDate: today,
			})).To(Succeed())
		})

		It("returns the latest record", func() {
			recorder := do(http.MethodGet, "/records/latest", nil)
			Expect(recorder.Code).To(Equal(http.StatusOK))

			payload := decode(recorder)
			record := payload["record"].(map[string]interface{})
			Expect(record["avgPrice"]).To(Equal(20310.0))
		})

		It("returns records in the default range", func() {
			recorder := do(http.MethodGet, "/records", nil)
			Expect(recorder.Code).To(Equal(http.StatusOK))

			payload := decode(recorder)
			records := payload["records"].([]interface{})
			Expect(records).To(HaveLen(1))
		})

		It("rejects a malformed day key", func() {
			recorder := do(http.MethodGet, "/records?from=yesterday", nil)
			Expect(recorder.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Context("GET /alerts", func() {
		It("returns alerts in the default range", func() {
			engine.ReportAnomaly(ctx, &models.PriceRecord{Name: "A00铝", AvgPrice: 0, PriceDate: 20250521})

			recorder := do(http.MethodGet, "/alerts", nil)
			Expect(recorder.Code).To(Equal(http.StatusOK))

			payload := decode(recorder)
			alerts := payload["alerts"].([]interface{})
			Expect(alerts).To(HaveLen(1))
		})
	})

	Context("GET /status", func() {
		It("reports the cycle state", func() {
			recorder := do(http.MethodGet, "/status", nil)
			Expect(recorder.Code).To(Equal(http.StatusOK))

			payload := decode(recorder)
			state := payload["status"].(map[string]interface{})
			Expect(state["delivered_today"]).To(BeTrue())
			Expect(state["today"]).To(Equal(20250521.0))
		})
	})

	Context("POST /webhook/test", func() {
		It("sends a canned record through the delivery webhook", func() {
			recorder := do(http.MethodPost, "/webhook/test", nil)
			Expect(recorder.Code).To(Equal(http.StatusOK))

			Expect(deliverer.delivered).To(HaveLen(1))
			Expect(deliverer.delivered[0].Name).To(Equal(registry.PrimarySourceName))
			Expect(deliverer.delivered[0].AvgPrice).To(Equal(20310.0))
		})

		It("maps a failed send to 502", func() {
			deliverer.err = errors.New("webhook rejected")

			recorder := do(http.MethodPost, "/webhook/test", nil)
			Expect(recorder.Code).To(Equal(http.StatusBadGateway))
		})
	})
})
