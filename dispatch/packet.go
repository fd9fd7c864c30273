package dispatch

import "github.com/TheSmallBoat/wirenet/codec"

// Packet is a header followed by a body, encoded back to back as one frame.
type Packet[H, M any] struct {
	Header H
	Body   M
}

func (p *Packet[H, M]) Fields() []codec.Field {
	return []codec.Field{
		{Name: "header", Value: &p.Header},
		{Name: "body", Value: &p.Body},
	}
}

// Header is a header that carries nothing but a discriminant.
type Header[ID comparable] struct {
	ID ID
}

// HeaderID extracts the discriminant of a Header. It is the headerID func to pass to New for
// registries keyed on Header.
func HeaderID[ID comparable](h Header[ID]) ID { return h.ID }

// Wrap puts body behind a Header carrying its discriminant.
func Wrap[ID comparable, M Schema[ID]](body M) *Packet[Header[ID], M] {
	return &Packet[Header[ID], M]{Header: Header[ID]{ID: body.Discriminant()}, Body: body}
}
