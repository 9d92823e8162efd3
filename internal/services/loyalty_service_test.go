package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/shophub/marketplace/internal/domain"
)

var loyaltyTestNow = time.Date(2026, time.July, 20, 11, 0, 0, 0, time.UTC)

func newLoyaltyServiceForTest(t *testing.T, accounts *stubRewardAccountRepository, ledger *stubPointsLedgerRepository, orders *stubOrderRepository) LoyaltyService {
	t.Helper()
	svc, err := NewLoyaltyService(LoyaltyServiceDeps{
		Accounts:    accounts,
		Ledger:      ledger,
		Orders:      orders,
		Config:      DefaultLoyaltyConfig(),
		Clock:       fixedClock(loyaltyTestNow),
		IDGenerator: sequentialIDs("pts_"),
	})
	if err != nil {
		t.Fatalf("NewLoyaltyService returned error: %v", err)
	}
	return svc
}

func deliveredOrder(id string, total int64) domain.Order {
	return domain.Order{
		ID:       id,
		BuyerID:  strPtr("buyer_1"),
		SellerID: "seller_1",
		Status:   domain.OrderStatusDelivered,
		Total:    decimal.NewFromInt(total),
	}
}

func TestLoyaltyService_OnDelivered_AwardsPoints(t *testing.T) {
	accounts := newStubRewardAccountRepository()
	ledger := &stubPointsLedgerRepository{}
	orders := newStubOrderRepository(deliveredOrder("order_1", 300))
	svc := newLoyaltyServiceForTest(t, accounts, ledger, orders)

	account, err := svc.OnDelivered(context.Background(), orders.orders["order_1"])
	if err != nil {
		t.Fatalf("OnDelivered returned error: %v", err)
	}
	// 300 / 30 * 10 = 100 points
	if account.Balance != 100 {
		t.Fatalf("balance = %d, want 100", account.Balance)
	}
	if account.LifetimeEarned != 100 {
		t.Fatalf("lifetime earned = %d, want 100", account.LifetimeEarned)
	}
	if account.Tier != domain.TierBronze {
		t.Fatalf("tier = %s, want bronze", account.Tier)
	}
	if len(ledger.entries) != 1 {
		t.Fatalf("ledger entries = %d, want 1", len(ledger.entries))
	}
	entry := ledger.entries[0]
	if entry.Type != domain.PointsEarned || entry.Points != 100 || entry.BalanceAfter != 100 {
		t.Fatalf("ledger entry = %+v", entry)
	}
	if orders.orders["order_1"].PointsEarned != 100 {
		t.Fatalf("order PointsEarned = %d, want 100", orders.orders["order_1"].PointsEarned)
	}
}

func TestLoyaltyService_OnDelivered_FlooringAndIdempotency(t *testing.T) {
	accounts := newStubRewardAccountRepository()
	ledger := &stubPointsLedgerRepository{}
	orders := newStubOrderRepository(deliveredOrder("order_1", 100))
	svc := newLoyaltyServiceForTest(t, accounts, ledger, orders)

	account, err := svc.OnDelivered(context.Background(), orders.orders["order_1"])
	if err != nil {
		t.Fatalf("OnDelivered returned error: %v", err)
	}
	// 100 / 30 * 10 = 33.33 floors to 33
	if account.Balance != 33 {
		t.Fatalf("balance = %d, want 33", account.Balance)
	}

	again, err := svc.OnDelivered(context.Background(), orders.orders["order_1"])
	if err != nil {
		t.Fatalf("second OnDelivered returned error: %v", err)
	}
	if again.Balance != 33 {
		t.Fatalf("balance after replay = %d, want 33", again.Balance)
	}
	if len(ledger.entries) != 1 {
		t.Fatalf("ledger entries = %d, want 1 after replay", len(ledger.entries))
	}
}

func TestLoyaltyService_OnDelivered_RequiresBuyer(t *testing.T) {
	svc := newLoyaltyServiceForTest(t, newStubRewardAccountRepository(), &stubPointsLedgerRepository{}, newStubOrderRepository())

	order := deliveredOrder("order_1", 300)
	order.BuyerID = nil
	if _, err := svc.OnDelivered(context.Background(), order); !errors.Is(err, ErrLoyaltyInvalidInput) {
		t.Fatalf("err = %v, want ErrLoyaltyInvalidInput", err)
	}
}

func TestLoyaltyService_TierPromotion(t *testing.T) {
	accounts := newStubRewardAccountRepository(domain.RewardAccount{
		ID:             "acct_1",
		BuyerID:        "buyer_1",
		Balance:        1950,
		LifetimeEarned: 1950,
		Tier:           domain.TierBronze,
	})
	ledger := &stubPointsLedgerRepository{}
	orders := newStubOrderRepository(deliveredOrder("order_1", 300))
	svc := newLoyaltyServiceForTest(t, accounts, ledger, orders)

	account, err := svc.OnDelivered(context.Background(), orders.orders["order_1"])
	if err != nil {
		t.Fatalf("OnDelivered returned error: %v", err)
	}
	if account.LifetimeEarned != 2050 {
		t.Fatalf("lifetime earned = %d, want 2050", account.LifetimeEarned)
	}
	if account.Tier != domain.TierSilver {
		t.Fatalf("tier = %s, want silver at 2050 lifetime points", account.Tier)
	}
}

func TestLoyaltyService_OnReversal(t *testing.T) {
	t.Run("claws back earned points once", func(t *testing.T) {
		accounts := newStubRewardAccountRepository()
		ledger := &stubPointsLedgerRepository{}
		orders := newStubOrderRepository(deliveredOrder("order_1", 300))
		svc := newLoyaltyServiceForTest(t, accounts, ledger, orders)

		if _, err := svc.OnDelivered(context.Background(), orders.orders["order_1"]); err != nil {
			t.Fatalf("OnDelivered returned error: %v", err)
		}

		account, err := svc.OnReversal(context.Background(), orders.orders["order_1"])
		if err != nil {
			t.Fatalf("OnReversal returned error: %v", err)
		}
		if account.Balance != 0 {
			t.Fatalf("balance = %d, want 0", account.Balance)
		}
		if len(ledger.entries) != 2 {
			t.Fatalf("ledger entries = %d, want 2", len(ledger.entries))
		}
		adjustment := ledger.entries[1]
		if adjustment.Type != domain.PointsAdjustment || adjustment.Points != -100 {
			t.Fatalf("adjustment entry = %+v", adjustment)
		}

		again, err := svc.OnReversal(context.Background(), orders.orders["order_1"])
		if err != nil {
			t.Fatalf("second OnReversal returned error: %v", err)
		}
		if again.Balance != 0 || len(ledger.entries) != 2 {
			t.Fatalf("replayed reversal changed state: balance=%d entries=%d", again.Balance, len(ledger.entries))
		}
	})

	t.Run("no-op when nothing was earned", func(t *testing.T) {
		accounts := newStubRewardAccountRepository()
		ledger := &stubPointsLedgerRepository{}
		svc := newLoyaltyServiceForTest(t, accounts, ledger, newStubOrderRepository())

		account, err := svc.OnReversal(context.Background(), deliveredOrder("order_1", 300))
		if err != nil {
			t.Fatalf("OnReversal returned error: %v", err)
		}
		if account.Balance != 0 || len(ledger.entries) != 0 {
			t.Fatalf("unexpected state: balance=%d entries=%d", account.Balance, len(ledger.entries))
		}
	})

	t.Run("clawback capped at balance", func(t *testing.T) {
		accounts := newStubRewardAccountRepository()
		ledger := &stubPointsLedgerRepository{}
		orders := newStubOrderRepository(deliveredOrder("order_1", 300))
		svc := newLoyaltyServiceForTest(t, accounts, ledger, orders)

		if _, err := svc.OnDelivered(context.Background(), orders.orders["order_1"]); err != nil {
			t.Fatalf("OnDelivered returned error: %v", err)
		}
		// Spend most of the balance before the reversal arrives.
		if _, err := svc.Redeem(context.Background(), RedeemPointsCommand{BuyerID: "buyer_1", Points: 60}); err != nil {
			t.Fatalf("Redeem returned error: %v", err)
		}

		account, err := svc.OnReversal(context.Background(), orders.orders["order_1"])
		if err != nil {
			t.Fatalf("OnReversal returned error: %v", err)
		}
		if account.Balance != 0 {
			t.Fatalf("balance = %d, want 0 after capped clawback", account.Balance)
		}
	})
}

func TestLoyaltyService_Redeem(t *testing.T) {
	t.Run("debits balance", func(t *testing.T) {
		accounts := newStubRewardAccountRepository(domain.RewardAccount{
			ID:      "acct_1",
			BuyerID: "buyer_1",
			Balance: 250,
			Tier:    domain.TierBronze,
		})
		ledger := &stubPointsLedgerRepository{}
		svc := newLoyaltyServiceForTest(t, accounts, ledger, newStubOrderRepository())

		account, err := svc.Redeem(context.Background(), RedeemPointsCommand{BuyerID: "buyer_1", Points: 100})
		if err != nil {
			t.Fatalf("Redeem returned error: %v", err)
		}
		if account.Balance != 150 {
			t.Fatalf("balance = %d, want 150", account.Balance)
		}
		if len(ledger.entries) != 1 || ledger.entries[0].Type != domain.PointsRedeemed || ledger.entries[0].Points != -100 {
			t.Fatalf("ledger entries = %+v", ledger.entries)
		}
	})

	t.Run("insufficient balance", func(t *testing.T) {
		accounts := newStubRewardAccountRepository(domain.RewardAccount{
			ID:      "acct_1",
			BuyerID: "buyer_1",
			Balance: 40,
		})
		svc := newLoyaltyServiceForTest(t, accounts, &stubPointsLedgerRepository{}, newStubOrderRepository())

		if _, err := svc.Redeem(context.Background(), RedeemPointsCommand{BuyerID: "buyer_1", Points: 100}); !errors.Is(err, ErrLoyaltyInsufficientBalance) {
			t.Fatalf("err = %v, want ErrLoyaltyInsufficientBalance", err)
		}
	})

	t.Run("rejects non-positive points", func(t *testing.T) {
		svc := newLoyaltyServiceForTest(t, newStubRewardAccountRepository(), &stubPointsLedgerRepository{}, newStubOrderRepository())

		if _, err := svc.Redeem(context.Background(), RedeemPointsCommand{BuyerID: "buyer_1", Points: 0}); !errors.Is(err, ErrLoyaltyInvalidInput) {
			t.Fatalf("err = %v, want ErrLoyaltyInvalidInput", err)
		}
	})
}

func TestLoyaltyService_Ledger_NoAccount(t *testing.T) {
	svc := newLoyaltyServiceForTest(t, newStubRewardAccountRepository(), &stubPointsLedgerRepository{}, newStubOrderRepository())

	entries, err := svc.Ledger(context.Background(), "buyer_without_account", Pagination{PageSize: 20})
	if err != nil {
		t.Fatalf("Ledger returned error: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("entries = %d, want 0", len(entries))
	}
}

func TestLoyaltyService_GetAccount_CreatesOnFirstUse(t *testing.T) {
	accounts := newStubRewardAccountRepository()
	svc := newLoyaltyServiceForTest(t, accounts, &stubPointsLedgerRepository{}, newStubOrderRepository())

	account, err := svc.GetAccount(context.Background(), "buyer_1")
	if err != nil {
		t.Fatalf("GetAccount returned error: %v", err)
	}
	if account.BuyerID != "buyer_1" || account.Tier != domain.TierBronze {
		t.Fatalf("account = %+v", account)
	}
	if account.ID == "" {
		t.Fatalf("account id not assigned")
	}
}
