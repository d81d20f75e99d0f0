package services

import (
	"context"

	"github.com/chris-briden/edc-exchange-sub000/internal/models"
	"github.com/chris-briden/edc-exchange-sub000/internal/rbac"
	"github.com/google/uuid"
)

type TransactionView struct {
	Transaction *models.Transaction `json:"transaction"`
	Shipments   []models.Shipment   `json:"shipments"`
}

type TransactionService struct {
	txRepo       TransactionStore
	shipmentRepo ShipmentStore
	auditRepo    AuditStore
}

func NewTransactionService(txRepo TransactionStore, shipmentRepo ShipmentStore, auditRepo AuditStore) *TransactionService {
	return &TransactionService{txRepo: txRepo, shipmentRepo: shipmentRepo, auditRepo: auditRepo}
}

func (s *TransactionService) Get(ctx context.Context, actor Actor, id uuid.UUID) (*TransactionView, error) {
	tx, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	shipments, err := s.shipmentRepo.ListByTransaction(ctx, tx.ID)
	if err != nil {
		return nil, err
	}
	if shipments == nil {
		shipments = []models.Shipment{}
	}
	return &TransactionView{Transaction: tx, Shipments: shipments}, nil
}

// Events returns the audit trail of a transaction and its shipments, oldest first.
func (s *TransactionService) Events(ctx context.Context, actor Actor, id uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	tx, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	shipments, err := s.shipmentRepo.ListByTransaction(ctx, tx.ID)
	if err != nil {
		return nil, err
	}
	ids := []uuid.UUID{tx.ID}
	for _, sh := range shipments {
		ids = append(ids, sh.ID)
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	entries, err := s.auditRepo.ListForEntities(ctx, ids, limit, offset)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []models.AuditLog{}
	}
	return entries, nil
}

func (s *TransactionService) load(ctx context.Context, actor Actor, id uuid.UUID) (*models.Transaction, error) {
	tx, err := s.txRepo.GetByID(ctx, id)
	if err != nil {
		return nil, mapNotFound(err, "transaction")
	}
	if err := authorize(actor, tx.BuyerID, tx.SellerID, rbac.PermViewTransaction); err != nil {
		return nil, err
	}
	return tx, nil
}
