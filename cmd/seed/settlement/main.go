package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ticketing-settlement/pkg/config"
	"ticketing-settlement/pkg/db"
	"ticketing-settlement/pkg/logger"
	"ticketing-settlement/services/audit"
	"ticketing-settlement/services/reauth"
	"ticketing-settlement/services/settlement"
)

const (
	seedOrganizerID = "org_demo"
	seedOperatorID  = "op_demo"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		fx.Invoke(seed),
		fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		log.Fatalf("seed failed: %v", err)
	}
	_ = app.Stop(ctx)
}

func seed(conn *gorm.DB) error {
	for _, fn := range []func(*gorm.DB) error{settlement.AutoMigrate, audit.AutoMigrate, reauth.AutoMigrate} {
		if err := fn(conn); err != nil {
			return err
		}
	}

	credential := os.Getenv("SEED_OPERATOR_CREDENTIAL")
	if credential == "" {
		credential = "settle-demo"
	}
	hash, err := reauth.HashCredential(credential)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	trustedAt := now
	balance := int64(500000)

	organizer := settlement.Organizer{
		ID:               seedOrganizerID,
		Name:             "Demo Productions",
		IsTrusted:        true,
		TrustedAt:        &trustedAt,
		TrustedBy:        seedOperatorID,
		KYCStatus:        "verified",
		AvailableBalance: &balance,
	}
	bank := settlement.BankAccount{
		ID:            "bank_" + seedOrganizerID,
		OwnerID:       seedOrganizerID,
		OwnerType:     settlement.RecipientOrganizer,
		BankName:      "Demo Bank",
		AccountNumber: "0001234567",
		AccountName:   organizer.Name,
		IsDefault:     true,
	}
	promoterBank := settlement.BankAccount{
		ID:            "bank_prm_demo",
		OwnerID:       "prm_demo",
		OwnerType:     settlement.RecipientPromoter,
		BankName:      "Demo Bank",
		AccountNumber: "0007654321",
		AccountName:   "Demo Promoter",
		IsDefault:     true,
	}

	return conn.Transaction(func(tx *gorm.DB) error {
		upsert := tx.Clauses(clause.OnConflict{DoNothing: true})

		if err := upsert.Create(&reauth.OperatorCredential{OperatorID: seedOperatorID, PasswordHash: hash}).Error; err != nil {
			return err
		}
		if err := upsert.Create(&organizer).Error; err != nil {
			return err
		}
		if err := upsert.Create([]settlement.BankAccount{bank, promoterBank}).Error; err != nil {
			return err
		}

		for i, days := range []int{-14, -3, 7} {
			event := settlement.Event{
				ID:           fmt.Sprintf("evt_demo_%d", i+1),
				OrganizerID:  seedOrganizerID,
				Title:        fmt.Sprintf("Demo Event %d", i+1),
				Currency:     "USD",
				StartDate:    now.AddDate(0, 0, days-1),
				EndDate:      now.AddDate(0, 0, days),
				PayoutStatus: settlement.EventPayoutPending,
			}
			if err := upsert.Create(&event).Error; err != nil {
				return err
			}
			if err := seedOrders(upsert, event.ID, now); err != nil {
				return err
			}
		}

		zap.L().Info("[Seed] settlement fixtures ready",
			zap.String("organizer_id", seedOrganizerID),
			zap.String("operator_id", seedOperatorID),
		)
		return nil
	})
}

func seedOrders(tx *gorm.DB, eventID string, now time.Time) error {
	statuses := []string{
		settlement.OrderCompleted,
		settlement.OrderCompleted,
		settlement.OrderCompleted,
		settlement.OrderRefunded,
		settlement.OrderPending,
	}

	for i, status := range statuses {
		order := settlement.Order{
			ID:          fmt.Sprintf("%s_ord_%d", eventID, i+1),
			EventID:     eventID,
			TotalAmount: 250000,
			PlatformFee: 12500,
			Status:      status,
			CreatedAt:   now,
		}
		if err := tx.Create(&order).Error; err != nil {
			return err
		}
		if i%2 != 0 || status != settlement.OrderCompleted {
			continue
		}
		sale := settlement.PromoterSale{
			ID:               fmt.Sprintf("%s_sale_%d", eventID, i+1),
			EventID:          eventID,
			PromoterID:       "prm_demo",
			OrderID:          order.ID,
			CommissionAmount: 20000,
			Status:           settlement.PromoterSalePending,
			CreatedAt:        now,
		}
		if err := tx.Create(&sale).Error; err != nil {
			return err
		}
	}
	return nil
}
