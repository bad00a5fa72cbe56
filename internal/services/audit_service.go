package services

import (
	"context"
	"time"

	"github.com/messhub/booking-engine/internal/database"
	"github.com/messhub/booking-engine/internal/models"
	"github.com/messhub/booking-engine/internal/utils"
	"github.com/sirupsen/logrus"
)

// RequestMeta describes the HTTP caller behind a payment event
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// AuditService appends payment events to the audit log. Audit writes happen
// outside the business transaction and never fail the operation.
type AuditService struct {
	audits database.PaymentAuditStore
	logger *logrus.Logger
}

// NewAuditService creates a new audit service
func NewAuditService(audits database.PaymentAuditStore, logger *logrus.Logger) *AuditService {
	return &AuditService{audits: audits, logger: logger}
}

// Record stores the audit entry with the caller's device info attached
func (s *AuditService) Record(ctx context.Context, audit *models.PaymentAudit, meta RequestMeta) {
	if meta.IPAddress != "" || meta.UserAgent != "" {
		audit.SetMetadata(meta.IPAddress, meta.UserAgent, utils.ParseUserAgent(meta.UserAgent).AsMap())
	}

	// the caller's context may already be cancelled by the time we audit
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.audits.Log(writeCtx, audit); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"event_type":     audit.EventType,
			"transaction_id": audit.TransactionID,
		}).Error("Failed to write payment audit")
	}
}
