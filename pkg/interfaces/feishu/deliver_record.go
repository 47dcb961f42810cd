package feishu

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"aluwatch/pkg/daykey"
	"aluwatch/pkg/db/models"
)

// RecordPayload is the JSON body the delivery webhook expects: the
// record's fields with the day key rendered as YYYY-MM-DD.
type RecordPayload struct {
	Name       string  `json:"name"`
	PriceRange string  `json:"priceRange"`
	AvgPrice   float64 `json:"avgPrice"`
	Change     float64 `json:"change"`
	Unit       string  `json:"unit"`
	Date       string  `json:"date"`
}

// NewRecordPayload converts a stored record to the outbound shape
func NewRecordPayload(record *models.PriceRecord) RecordPayload {
	return RecordPayload{
		Name:       record.Name,
		PriceRange: record.PriceRange,
		AvgPrice:   record.AvgPrice,
		Change:     record.Change,
		Unit:       record.Unit,
		Date:       daykey.Format(record.PriceDate),
	}
}

// DeliverRecord posts the record to the delivery webhook. A 2xx
// response means delivered; anything else is a failed attempt.
func (c *Client) DeliverRecord(ctx context.Context, record *models.PriceRecord) error {
	payload := NewRecordPayload(record)

	resp, err := c.makeRequest(ctx, c.config.WebhookURL, c.config.WebhookToken, payload)
	if err != nil {
		return fmt.Errorf("failed to deliver record: %w", err)
	}
	defer resp.Body.Close()

	if err := c.handleResponse(resp); err != nil {
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"source":     record.Name,
		"price_date": record.PriceDate,
		"avg_price":  record.AvgPrice,
	}).Info("Delivered price record to webhook")
	return nil
}
