package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/elixirhk/stockroom/internal/adapter/storage"
	"github.com/elixirhk/stockroom/internal/config"
	"github.com/elixirhk/stockroom/internal/core/domain"
	"github.com/elixirhk/stockroom/internal/core/service"
)

const (
	initialStock  = 20
	totalRequests = 50
)

func main() {
	driver := flag.String("driver", "sqlite", "database driver: sqlite, mysql or postgres")
	dsn := flag.String("dsn", "", "database DSN (defaults to a temporary SQLite file)")
	flag.Parse()

	log := config.NewLogger("warn", os.Stderr)
	ctx := context.Background()

	dialect, err := storage.ParseDialect(*driver)
	if err != nil {
		log.Fatal(err)
	}
	if *dsn == "" {
		if dialect != storage.SQLite {
			log.Fatal("-dsn is required for mysql and postgres")
		}
		dir, err := os.MkdirTemp("", "stockroom-stress")
		if err != nil {
			log.Fatalf("failed to create temp dir: %v", err)
		}
		defer os.RemoveAll(dir)
		*dsn = filepath.Join(dir, "stress.db")
	}

	store, err := storage.Open(ctx, dialect, *dsn, storage.PoolConfig{MaxOpenConns: 50})
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}

	core := service.New(store, service.WithLogger(log))
	housekeeper := domain.Actor{SubjectID: "stress-housekeeper", Role: domain.RoleHousekeeper}

	// Fresh item per run so repeated runs against one database do not collide
	item, err := core.Ledger.RegisterItem(ctx, housekeeper, "stress-"+uuid.NewString()[:8], initialStock)
	if err != nil {
		log.Fatalf("failed to register item: %v", err)
	}

	// Counters
	var successCount, soldOutCount, failCount atomic.Int32

	// Spawn concurrent withdrawals of one unit each
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			actor := domain.Actor{SubjectID: fmt.Sprintf("housekeeper-%d", n), Role: domain.RoleHousekeeper}
			_, err := core.Withdrawals.CreateWithdrawal(ctx, actor, []domain.ItemAmount{{ItemID: item.ID, Amount: 1}}, "stress")
			switch {
			case err == nil:
				successCount.Add(1)
			case domain.KindOf(err) == domain.KindConflict:
				soldOutCount.Add(1)
			default:
				failCount.Add(1)
				log.WithFields(logrus.Fields{"worker": n}).WithError(err).Warn("withdrawal failed")
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	success := successCount.Load()
	soldOut := soldOutCount.Load()
	fail := failCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Driver:           %s\n", dialect)
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Insufficient:     %d\n", soldOut)
	fmt.Printf("Other Failures:   %d\n", fail)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	passed := true

	// Assertions
	if success == initialStock && soldOut+fail == totalRequests-initialStock {
		fmt.Printf("PASS: Exactly %d withdrawals succeeded, %d failed\n", initialStock, totalRequests-initialStock)
	} else {
		passed = false
		fmt.Printf("FAIL: Expected %d success/%d fail, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, soldOut+fail)
	}

	// Verify final stock in the database
	final, err := core.Ledger.GetItem(ctx, item.ID)
	if err != nil {
		log.Fatalf("failed to read item: %v", err)
	}
	fmt.Printf("Final Stock:      %d\n", final.Quantity)
	if final.Quantity == initialStock-int(success) && final.Quantity >= 0 {
		fmt.Println("PASS: Stock matches successful withdrawals")
	} else {
		passed = false
		fmt.Printf("FAIL: Expected stock %d, got %d\n", initialStock-int(success), final.Quantity)
	}

	// Verify the ledger lines add up to the stored quantity
	lines, err := core.Audit.ItemLines(ctx, item.ID)
	if err != nil {
		log.Fatalf("failed to read ledger: %v", err)
	}
	sum := 0
	for _, l := range lines {
		sum += l.AmountChanged
	}
	if sum == final.Quantity {
		fmt.Printf("PASS: %d ledger lines sum to %d\n", len(lines), sum)
	} else {
		passed = false
		fmt.Printf("FAIL: Ledger lines sum to %d, stored quantity %d\n", sum, final.Quantity)
	}

	if !passed {
		os.Exit(1)
	}
}
