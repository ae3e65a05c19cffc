package pdf

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	paymentdomain "github.com/smallbiznis/sitebill/internal/payment/domain"
	plandomain "github.com/smallbiznis/sitebill/internal/plan/domain"
)

const timestampLayout = "2006-01-02 15:04 MST"

var ErrInvalidReceipt = errors.New("invalid_receipt_data")

type ReceiptData struct {
	TransactionID string
	AccountID     string
	Reference     string
	ReferenceKind string
	PlanName      string
	PlanCode      string
	Amount        string
	Currency      string
	Status        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewReceiptData flattens a transaction and the plan it paid for.
func NewReceiptData(txn *paymentdomain.Transaction, plan *plandomain.Plan) ReceiptData {
	if txn == nil {
		return ReceiptData{}
	}
	data := ReceiptData{
		TransactionID: txn.ID.String(),
		AccountID:     txn.AccountID.String(),
		Reference:     txn.TransactionReference,
		ReferenceKind: string(txn.ReferenceKind),
		Amount:        txn.Amount.StringFixed(2),
		Currency:      strings.ToUpper(txn.Currency),
		Status:        string(txn.Status),
		CreatedAt:     txn.CreatedAt,
		UpdatedAt:     txn.UpdatedAt,
	}
	if plan != nil {
		data.PlanName = plan.Name
		data.PlanCode = plan.Code
	}
	return data
}

type PDFProvider struct{}

func New() Provider {
	return &PDFProvider{}
}

func (p *PDFProvider) GenerateReceipt(ctx context.Context, receipt ReceiptData) ([]byte, error) {
	if receipt.TransactionID == "" || receipt.Reference == "" {
		return nil, ErrInvalidReceipt
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(25,
		text.NewCol(8, "Receipt", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, strings.ToUpper(receipt.Status), props.Text{
			Size:  12,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	m.AddRow(24,
		col.New(6).Add(
			text.New("Transaction: "+receipt.TransactionID, props.Text{Top: 0}),
			text.New("Account: "+receipt.AccountID, props.Text{Top: 5}),
			text.New("Reference: "+receipt.Reference, props.Text{Top: 10}),
			text.New("Reference kind: "+receipt.ReferenceKind, props.Text{Top: 15}),
		),
		col.New(6).Add(
			text.New("Created: "+formatTime(receipt.CreatedAt), props.Text{Top: 0, Align: align.Right}),
			text.New("Updated: "+formatTime(receipt.UpdatedAt), props.Text{Top: 5, Align: align.Right}),
		),
	)

	m.AddRow(10,
		text.NewCol(8, "Plan", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(4, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(12,
		text.NewCol(8, planLabel(receipt), props.Text{Size: 9}),
		text.NewCol(4, receipt.Amount+" "+receipt.Currency, props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Total", props.Text{Size: 9, Style: fontstyle.Bold}),
		text.NewCol(2, receipt.Amount+" "+receipt.Currency, props.Text{Size: 9, Align: align.Right}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}

func planLabel(r ReceiptData) string {
	switch {
	case r.PlanName != "" && r.PlanCode != "":
		return r.PlanName + " (" + r.PlanCode + ")"
	case r.PlanName != "":
		return r.PlanName
	default:
		return r.PlanCode
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(timestampLayout)
}
