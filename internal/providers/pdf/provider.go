package pdf

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("pdf.provider",
	fx.Provide(New),
)

// Provider renders documents on demand. Nothing it produces is stored.
type Provider interface {
	GenerateReceipt(ctx context.Context, data ReceiptData) ([]byte, error)
}

type NoOpProvider struct{}

func (p *NoOpProvider) GenerateReceipt(ctx context.Context, data ReceiptData) ([]byte, error) {
	return nil, nil
}
