package postgres

import (
	"errors"
	"time"

	"gorm.io/gorm"

	paymentmodel "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/payment"
	paymentpkg "github.com/frahmantamala/payment-reconciliation/internal/payment"
)

// PaymentRepository implements paymentpkg.RepositoryAPI using GORM.
type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) paymentpkg.RepositoryAPI {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(record *paymentmodel.PaymentRecord) error {
	return r.db.Create(record).Error
}

func (r *PaymentRepository) GetByID(id int64) (*paymentmodel.PaymentRecord, error) {
	var record paymentmodel.PaymentRecord
	err := r.db.Where("id = ?", id).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, paymentpkg.ErrRecordNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (r *PaymentRepository) GetByExternalReference(externalReference string) (*paymentmodel.PaymentRecord, error) {
	var record paymentmodel.PaymentRecord
	err := r.db.Where("external_reference = ?", externalReference).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, paymentpkg.ErrRecordNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (r *PaymentRepository) GetByGatewayPaymentID(gatewayPaymentID string) (*paymentmodel.PaymentRecord, error) {
	var record paymentmodel.PaymentRecord
	err := r.db.Where("gateway_payment_id = ?", gatewayPaymentID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, paymentpkg.ErrRecordNotFound
		}
		return nil, err
	}
	return &record, nil
}

// ListNonTerminalByTenant returns the tenant's oldest open payments
// first, so batch sweeps drain the backlog in creation order.
func (r *PaymentRepository) ListNonTerminalByTenant(tenantID string, limit int) ([]*paymentmodel.PaymentRecord, error) {
	var records []*paymentmodel.PaymentRecord
	err := r.db.Where("tenant_id = ? AND status NOT IN ?", tenantID, paymentmodel.TerminalStatuses()).
		Order("created_at ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// ApplyTransition persists the record's status fields guarded by the
// version column. The WHERE clause carries the version the caller
// loaded; zero rows affected means another writer advanced the record
// first and the caller must refetch.
func (r *PaymentRepository) ApplyTransition(record *paymentmodel.PaymentRecord) error {
	updates := map[string]interface{}{
		"status":     record.Status,
		"version":    record.Version + 1,
		"updated_at": record.UpdatedAt,
	}
	if record.PaidAt != nil {
		updates["paid_at"] = *record.PaidAt
	}
	if record.GatewayPaymentID != nil {
		updates["gateway_payment_id"] = *record.GatewayPaymentID
	}
	if record.LastSyncedAt != nil {
		updates["last_synced_at"] = *record.LastSyncedAt
	}

	result := r.db.Model(&paymentmodel.PaymentRecord{}).
		Where("id = ? AND version = ?", record.ID, record.Version).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return paymentpkg.ErrVersionConflict
	}

	record.Version++
	return nil
}

func (r *PaymentRepository) TouchSynced(id int64, at time.Time) error {
	return r.db.Model(&paymentmodel.PaymentRecord{}).
		Where("id = ?", id).
		UpdateColumn("last_synced_at", at).Error
}

// SetGatewayPaymentID stores the gateway's id the first time it is
// learned. The IS NULL guard keeps a late observation from overwriting
// an id already linked to the record.
func (r *PaymentRepository) SetGatewayPaymentID(id int64, gatewayPaymentID string) error {
	return r.db.Model(&paymentmodel.PaymentRecord{}).
		Where("id = ? AND gateway_payment_id IS NULL", id).
		UpdateColumn("gateway_payment_id", gatewayPaymentID).Error
}
