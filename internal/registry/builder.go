package registry

import (
	"encoding/hex"
	"time"

	"OracleMon/internal/identity"
	"OracleMon/internal/wire"
)

// BuildEntry converts one decoded query record into a registry entry. A nil
// record or one without metadata yields nil ("not available"). Identity
// resolution is best-effort; a nil resolver or a failed lookup leaves the
// identity empty and is reported through the returned lookup error, which
// callers log and otherwise ignore.
func BuildEntry(rec *wire.QueryRecord, resolver identity.Resolver, now time.Time) (*QueryEntry, error) {
	if rec == nil || rec.Metadata == nil {
		return nil, nil
	}
	meta := rec.Metadata

	e := &QueryEntry{
		QueryID:         meta.QueryID,
		Tick:            meta.Tick,
		Type:            TypeFromByte(meta.Type),
		Status:          StatusFromByte(meta.Status),
		StatusFlags:     DecodeStatusFlags(meta.Flags),
		InterfaceIndex:  meta.InterfaceIndex,
		SenderPublicKey: hex.EncodeToString(meta.PublicKey[:]),
		SubscriptionID:  meta.SubscriptionID,
		RevealTick:      meta.RevealTick,
		TimeoutAt:       meta.Timeout,
		TotalCommits:    meta.TotalCommits,
		AgreeingCommits: meta.AgreeingCommits,
		FirstSeen:       now,
		LastUpdated:     now,
	}

	switch payload := wire.DecodeQueryPayload(meta.InterfaceIndex, rec.QueryData).(type) {
	case *wire.PriceQuery:
		price := &PriceData{
			OracleName:    payload.OracleName,
			RequestedAt:   payload.RequestedAt,
			BaseCurrency:  payload.BaseCurrency,
			QuoteCurrency: payload.QuoteCurrency,
		}
		if reply, ok := wire.DecodePriceReply(rec.ReplyData); ok {
			price.Numerator = reply.Numerator
			price.Denominator = reply.Denominator
			price.Price = reply.Price()
			price.HasReply = true
		}
		e.Price = price
		if label := SealLabel(payload.OracleName); label != "" {
			e.IsSeal = true
			e.SealName = label
		}

	case *wire.MockQuery:
		v := payload.Value
		e.MockValue = &v
		e.RawReply = rec.ReplyData

	case *wire.RawQuery:
		e.RawPayload = payload.Data
		e.RawReply = rec.ReplyData
		// Heuristic only: unrecognized interfaces might still carry a
		// rational reply in the first 16 bytes.
		if guess, ok := wire.DecodePriceReply(rec.ReplyData); ok {
			e.RawReplyGuess = &ReplyGuess{Numerator: guess.Numerator, Denominator: guess.Denominator}
		}
	}

	var lookupErr error
	if resolver != nil {
		id, err := resolver.Resolve(meta.PublicKey)
		if err != nil {
			lookupErr = err
		} else {
			e.SenderIdentity = id
		}
	}

	return e, lookupErr
}
