// Package event fulfils event entitlements. A paid entitlement needs no
// external call, so fulfillment is a status confirmation.
package event

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/rs-ent/starglow-sub015/internal/types"
	"github.com/rs-ent/starglow-sub015/plugin/common"
)

var _ common.Handler = (*Handler)(nil)

type Handler struct {
	logger logrus.FieldLogger
}

func NewHandler(logger logrus.FieldLogger) *Handler {
	return &Handler{logger: logger.WithField("plugin", "event")}
}

func (h *Handler) Handle(_ context.Context, p types.Payment) types.Result {
	if res, done := common.CheckStatus(p); done {
		return res
	}

	h.logger.WithFields(logrus.Fields{
		"payment_id": p.ID,
		"event_id":   p.ProductID,
	}).Debug("event entitlement confirmed")

	return types.Succeed(types.EventData{
		Status: types.PaymentStatusPaid,
		PaidAt: p.PaidAt,
	})
}
