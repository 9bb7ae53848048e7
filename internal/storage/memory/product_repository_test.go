package memory_test

import (
	"testing"
	"time"

	"github.com/vladislavdragonenkov/farmline/internal/domain"
	"github.com/vladislavdragonenkov/farmline/internal/storage/memory"
)

func newProduct() domain.Product {
	now := time.Now().UTC()
	return domain.Product{
		ProducerID:        "producer-1",
		Name:              "молодой картофель",
		Category:          "vegetables",
		Location:          "ферма Заречье",
		IsOrganic:         true,
		PriceMinor:        150,
		Quantity:          40,
		RemainingQuantity: 40,
		Active:            true,
		Version:           0,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func TestProductRepository_CreateAssignsMonotonicIDs(t *testing.T) {
	repo := memory.NewProductRepository()

	first, err := repo.Create(newProduct())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	second, err := repo.Create(newProduct())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if first.ID <= 0 {
		t.Fatalf("expected positive id, got %d", first.ID)
	}
	if second.ID != first.ID+1 {
		t.Fatalf("expected id %d, got %d", first.ID+1, second.ID)
	}
}

func TestProductRepository_GetMissing(t *testing.T) {
	repo := memory.NewProductRepository()

	if _, err := repo.Get(404); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestProductRepository_ListByProducer(t *testing.T) {
	repo := memory.NewProductRepository()
	if _, err := repo.Create(newProduct()); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	other := newProduct()
	other.ProducerID = "producer-2"
	if _, err := repo.Create(other); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := repo.Create(newProduct()); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	products, err := repo.ListByProducer("producer-1")
	if err != nil {
		t.Fatalf("list by producer failed: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("expected 2 products, got %d", len(products))
	}
	if products[0].ID >= products[1].ID {
		t.Fatalf("expected products sorted by id, got %d then %d", products[0].ID, products[1].ID)
	}
}

func TestProductRepository_Save(t *testing.T) {
	repo := memory.NewProductRepository()
	product, err := repo.Create(newProduct())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	product.RemainingQuantity = 38
	if err := repo.Save(product); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	updated, err := repo.Get(product.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}

	if updated.RemainingQuantity != 38 {
		t.Fatalf("expected remaining 38, got %d", updated.RemainingQuantity)
	}
	if updated.Version != product.Version+1 {
		t.Fatalf("expected version increment, got %d", updated.Version)
	}
}

func TestProductRepository_SaveVersionConflict(t *testing.T) {
	repo := memory.NewProductRepository()
	product, err := repo.Create(newProduct())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	product.Version = 42
	if err := repo.Save(product); !domain.IsVersionConflict(err) {
		t.Fatalf("expected version conflict, got %v", err)
	}
}
