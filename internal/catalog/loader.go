package catalog

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"nexuspay/internal/contracts"
	"nexuspay/internal/ledger"

	"github.com/sirupsen/logrus"
)

var ErrCatalogLoadFailed = errors.New("catalog load failed")

// Reader runs read-only contract calls.
type Reader interface {
	Call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error)
}

// Product is one catalog entry as recorded on the ledger.
type Product struct {
	ID        uint64   `json:"id"`
	Name      string   `json:"name"`
	Price     string   `json:"price"`
	PriceWei  *big.Int `json:"priceWei"`
	Available bool     `json:"available"`
}

type Loader struct {
	reader Reader
	log    logrus.FieldLogger
}

func NewLoader(reader Reader, log logrus.FieldLogger) *Loader {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Loader{reader: reader, log: log.WithField("component", "catalog")}
}

// Load reads the product count and then every product 1..count, one call at
// a time. Any failure abandons the whole load.
func (l *Loader) Load(ctx context.Context) ([]Product, error) {
	out, err := l.reader.Call(ctx, contracts.MethodGetProductCount)
	if err != nil {
		return nil, fmt.Errorf("%w: product count: %v", ErrCatalogLoadFailed, err)
	}
	count, err := decodeCount(out)
	if err != nil {
		return nil, fmt.Errorf("%w: product count: %v", ErrCatalogLoadFailed, err)
	}

	// count is ledger-supplied; let append size the slice.
	var products []Product
	for id := uint64(1); id <= count; id++ {
		p, err := l.Product(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%w: product %d of %d: %v", ErrCatalogLoadFailed, id, count, err)
		}
		products = append(products, p)
	}

	l.log.WithField("count", count).Debug("catalog loaded")
	if products == nil {
		products = []Product{}
	}
	return products, nil
}

// Product performs a fresh read of a single product.
func (l *Loader) Product(ctx context.Context, id uint64) (Product, error) {
	out, err := l.reader.Call(ctx, contracts.MethodGetProduct, new(big.Int).SetUint64(id))
	if err != nil {
		return Product{}, err
	}
	return decodeProduct(id, out)
}

func decodeCount(out []interface{}) (uint64, error) {
	if len(out) != 1 {
		return 0, fmt.Errorf("expected 1 value, got %d", len(out))
	}
	count, ok := out[0].(*big.Int)
	if !ok || count == nil {
		return 0, fmt.Errorf("unexpected count type %T", out[0])
	}
	if count.Sign() < 0 || !count.IsUint64() {
		return 0, fmt.Errorf("count %s out of range", count)
	}
	return count.Uint64(), nil
}

func decodeProduct(id uint64, out []interface{}) (Product, error) {
	if len(out) != 3 {
		return Product{}, fmt.Errorf("expected 3 values, got %d", len(out))
	}
	name, ok := out[0].(string)
	if !ok {
		return Product{}, fmt.Errorf("unexpected name type %T", out[0])
	}
	price, ok := out[1].(*big.Int)
	if !ok || price == nil {
		return Product{}, fmt.Errorf("unexpected price type %T", out[1])
	}
	available, ok := out[2].(bool)
	if !ok {
		return Product{}, fmt.Errorf("unexpected availability type %T", out[2])
	}
	return Product{
		ID:        id,
		Name:      name,
		Price:     ledger.FormatEther(price),
		PriceWei:  new(big.Int).Set(price),
		Available: available,
	}, nil
}
