package backend

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/menu"
	"github.com/xenking/kart-checkout/internal/domain/order"
)

func encodeDecimal(e *jx.Encoder, d decimal.Decimal) {
	e.Raw([]byte(d.String()))
}

// decodeDecimal accepts a JSON number, a numeric string or null.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.Null:
		return decimal.Zero, d.Null()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(string(n))
	default:
		return decimal.Zero, errors.Errorf("unexpected %s for amount", d.Next())
	}
}

// encodeOrder writes the order payload the backend stores.
func encodeOrder(e *jx.Encoder, d order.Draft) {
	e.ObjStart()
	e.FieldStart("customerName")
	e.Str(d.Customer.Name())
	e.FieldStart("customerEmail")
	e.Str(d.Customer.Email)
	e.FieldStart("customerPhone")
	e.Str(d.Customer.Phone)
	e.FieldStart("address")
	e.Str(d.Address.String())

	e.FieldStart("items")
	e.ArrStart()
	for _, l := range d.Lines {
		e.ObjStart()
		e.FieldStart("name")
		e.Str(l.Name)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		e.FieldStart("price")
		encodeDecimal(e, l.Price)
		e.ObjEnd()
	}
	e.ArrEnd()

	e.FieldStart("subtotal")
	encodeDecimal(e, d.Subtotal)
	e.FieldStart("deliveryFee")
	encodeDecimal(e, d.DeliveryFee)
	e.FieldStart("tax")
	encodeDecimal(e, d.Tax)
	e.FieldStart("total")
	encodeDecimal(e, d.Total)
	e.FieldStart("paymentMethod")
	e.Str(string(d.PaymentMethod))
	e.FieldStart("status")
	e.Str(d.Status)
	if d.Payment != nil {
		e.FieldStart("paymentStatus")
		e.Str(order.PaymentStatusPaid)
		e.FieldStart("paymentIntentId")
		e.Str(d.Payment.IntentID)
	}
	e.ObjEnd()
}

func decodeMenuItem(d *jx.Decoder) (menu.Item, error) {
	var it menu.Item
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "_id", "id":
			it.ID, err = decodeOptionalStr(d)
		case "name":
			it.Name, err = decodeOptionalStr(d)
		case "image":
			it.Image, err = decodeOptionalStr(d)
		case "price":
			it.Price, err = decodeDecimal(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return it, err
}

func decodeHistoryEntry(d *jx.Decoder) (order.HistoryEntry, error) {
	var h order.HistoryEntry
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "_id":
			v, err := decodeOptionalStr(d)
			h.ID = v
			return err
		case "status":
			v, err := decodeOptionalStr(d)
			h.Status = v
			return err
		case "total":
			v, err := decodeDecimal(d)
			h.Total = v
			return err
		case "createdAt":
			v, err := decodeOptionalStr(d)
			if err != nil || v == "" {
				return err
			}
			t, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return errors.Wrap(err, "parse createdAt")
			}
			h.CreatedAt = t
			return nil
		case "items":
			if d.Next() == jx.Null {
				return d.Null()
			}
			return d.Arr(func(d *jx.Decoder) error {
				l, err := decodeHistoryLine(d)
				if err != nil {
					return err
				}
				h.Lines = append(h.Lines, l)
				return nil
			})
		default:
			return d.Skip()
		}
	})
	return h, err
}

func decodeHistoryLine(d *jx.Decoder) (order.Line, error) {
	var l order.Line
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "_id", "id":
			l.ItemID, err = decodeOptionalStr(d)
		case "name":
			l.Name, err = decodeOptionalStr(d)
		case "quantity":
			l.Quantity, err = d.Int()
		case "price":
			l.Price, err = decodeDecimal(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return l, err
}
