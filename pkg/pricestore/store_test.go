package pricestore_test

import (
	"context"
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"aluwatch/pkg/db/models"
	"aluwatch/pkg/pricestore"
)

func openTestDB() *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	Expect(err).NotTo(HaveOccurred())
	Expect(gdb.AutoMigrate(&models.PriceRecord{})).To(Succeed())
	return gdb
}

var _ = Describe("Store", func() {
	var (
		store *pricestore.Store
		ctx   context.Context
	)

	record := func(name string, date int, avg float64) *models.PriceRecord {
		return &models.PriceRecord{
			Name:       name,
			PriceRange: "20290-20330",
			AvgPrice:   avg,
			Change:     100,
			Unit:       "元/吨",
			PriceDate:  date,
		}
	}

	BeforeEach(func() {
		logger := logrus.New()
		logger.SetLevel(logrus.ErrorLevel)
		store = pricestore.New(openTestDB(), logger)
		ctx = context.Background()
	})

	Context("Append", func() {
		It("persists a record", func() {
			Expect(store.Append(ctx, record("A00铝", 20250521, 20310))).To(Succeed())

			has, err := store.HasRecordForDate(ctx, 20250521)
			Expect(err).NotTo(HaveOccurred())
			Expect(has).To(BeTrue())
		})

		It("rejects a second record for the same source and day", func() {
			Expect(store.Append(ctx, record("A00铝", 20250521, 20310))).To(Succeed())

			err := store.Append(ctx, record("A00铝", 20250521, 20350))
			Expect(err).To(MatchError(pricestore.ErrDuplicateRecord))
		})

		It("allows the same day for different sources", func() {
			Expect(store.Append(ctx, record("A00铝", 20250521, 20310))).To(Succeed())
			Expect(store.Append(ctx, record("LME铝", 20250521, 2400))).To(Succeed())
		})

		It("allows the same source on different days", func() {
			Expect(store.Append(ctx, record("A00铝", 20250520, 20210))).To(Succeed())
			Expect(store.Append(ctx, record("A00铝", 20250521, 20310))).To(Succeed())
		})
	})

	Context("HasRecordForDate", func() {
		It("reports false for a day with no records", func() {
			has, err := store.HasRecordForDate(ctx, 20250521)
			Expect(err).NotTo(HaveOccurred())
			Expect(has).To(BeFalse())
		})
	})

	Context("Latest", func() {
		It("returns nil when the store is empty", func() {
			latest, err := store.Latest(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(latest).To(BeNil())
		})

		It("returns the most recently appended record", func() {
			Expect(store.Append(ctx, record("A00铝", 20250520, 20210))).To(Succeed())
			Expect(store.Append(ctx, record("A00铝", 20250521, 20310))).To(Succeed())

			latest, err := store.Latest(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(latest).NotTo(BeNil())
			Expect(latest.PriceDate).To(Equal(20250521))
			Expect(latest.AvgPrice).To(Equal(20310.0))
		})
	})

	Context("RecordsBetween", func() {
		BeforeEach(func() {
			Expect(store.Append(ctx, record("A00铝", 20250519, 20110))).To(Succeed())
			Expect(store.Append(ctx, record("A00铝", 20250520, 20210))).To(Succeed())
			Expect(store.Append(ctx, record("A00铝", 20250521, 20310))).To(Succeed())
			Expect(store.Append(ctx, record("LME铝", 20250521, 2400))).To(Succeed())
		})

		It("bounds results to the day range, newest first", func() {
			records, err := store.RecordsBetween(ctx, 20250520, 20250521, "", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(3))
			Expect(records[0].PriceDate).To(Equal(20250521))
		})

		It("filters by source name", func() {
			records, err := store.RecordsBetween(ctx, 20250519, 20250521, "LME铝", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
			Expect(records[0].Name).To(Equal("LME铝"))
		})

		It("applies the limit", func() {
			records, err := store.RecordsBetween(ctx, 20250519, 20250521, "", 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(2))
		})
	})
})
