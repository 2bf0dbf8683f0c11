package service

import (
	"context"
	"errors"
	"log"
	"strconv"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"

	"github.com/monoxchd/psicologia-platform-sub000/internal/payment/domain"
)

var ErrChargeFailed = errors.New("charge failed")

// Charger abstracts the card processor so tests can fake it.
type Charger interface {
	Charge(ctx context.Context, accountID string, pkg domain.CreditPackage, cardToken string) (chargeID, status string, err error)
}

type CreditGranter interface {
	Purchase(ctx context.Context, accountID string, credits int64, chargeID string) error
}

type Publisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

type OmiseCharger struct {
	omc *omise.Client
}

func NewOmiseCharger(omc *omise.Client) *OmiseCharger {
	return &OmiseCharger{omc: omc}
}

func (o *OmiseCharger) Charge(ctx context.Context, accountID string, pkg domain.CreditPackage, cardToken string) (string, string, error) {
	ch := &omise.Charge{}
	req := &operations.CreateCharge{
		Amount:   pkg.AmountSatang,
		Currency: pkg.Currency,
		Card:     cardToken,
		Metadata: map[string]any{
			"account_id": accountID,
			"package":    pkg.Code,
			"credits":    strconv.FormatInt(pkg.Credits, 10),
		},
	}
	if err := o.omc.Do(ch, req); err != nil {
		return "", "", err
	}
	return ch.ID, string(ch.Status), nil
}

type PaymentSvc struct {
	charger Charger
	granter CreditGranter
	pub     Publisher
}

func NewPaymentSvc(charger Charger, granter CreditGranter, pub Publisher) *PaymentSvc {
	return &PaymentSvc{charger: charger, granter: granter, pub: pub}
}

// Purchase charges the card and grants credits when the processor
// settles synchronously. Pending charges are left to the webhook, which
// grants through the same idempotency key so double-grants cannot
// happen.
func (s *PaymentSvc) Purchase(ctx context.Context, accountID, packageCode, cardToken string) (*domain.CreditPackage, string, error) {
	pkg, err := domain.PackageByCode(packageCode)
	if err != nil {
		return nil, "", err
	}
	chargeID, status, err := s.charger.Charge(ctx, accountID, pkg, cardToken)
	if err != nil {
		s.publishFailed(ctx, accountID, "", err.Error())
		return nil, "", err
	}
	switch status {
	case "successful":
		if err := s.granter.Purchase(ctx, accountID, pkg.Credits, chargeID); err != nil {
			return nil, "", err
		}
	case "failed":
		s.publishFailed(ctx, accountID, chargeID, "charge declined")
		return nil, chargeID, ErrChargeFailed
	default:
		// pending / awaiting_authorize: webhook settles it
		log.Printf("[payment] charge=%s account=%s status=%s awaiting webhook", chargeID, accountID, status)
	}
	return &pkg, chargeID, nil
}

// Settle grants credits for a charge confirmed out of band.
func (s *PaymentSvc) Settle(ctx context.Context, accountID string, credits int64, chargeID string) error {
	return s.granter.Purchase(ctx, accountID, credits, chargeID)
}

func (s *PaymentSvc) publishFailed(ctx context.Context, accountID, chargeID, reason string) {
	if s.pub == nil {
		return
	}
	_ = s.pub.PublishJSON(ctx, "payment.failed", map[string]any{
		"account_id": accountID,
		"charge_id":  chargeID,
		"reason":     reason,
	})
}
