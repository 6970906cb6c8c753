package tilroy

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tap-tilroy/pkg/catalog"
	"github.com/ajitpratap0/tap-tilroy/pkg/fetch"
	"github.com/ajitpratap0/tap-tilroy/pkg/logger"
)

// step rewrites a record in place.
type step func(rec fetch.Record)

// transform drops error rows, then applies steps to a copy of the record.
func transform(stream string, steps ...step) catalog.TransformFunc {
	return func(raw fetch.Record) (fetch.Record, bool) {
		if isErrorRow(raw) {
			logger.Warn("dropping error row",
				zap.String("stream", stream),
				zap.String("code", fmt.Sprint(raw["code"])),
				zap.String("message", fmt.Sprint(raw["message"])))
			return nil, false
		}
		rec := make(fetch.Record, len(raw))
		for k, v := range raw {
			rec[k] = v
		}
		for _, s := range steps {
			s(rec)
		}
		return rec, true
	}
}

// isErrorRow matches the {"code", "message"} objects Tilroy mixes into
// result arrays when part of a request fails.
func isErrorRow(rec fetch.Record) bool {
	_, code := rec["code"]
	_, msg := rec["message"]
	return code && msg
}

// flatten lifts the keys of the nested object field to the top level as
// prefix+key and removes field. A null field is removed.
func flatten(field, prefix string) step {
	return func(rec fetch.Record) {
		v, ok := rec[field]
		if !ok {
			return
		}
		delete(rec, field)
		obj, ok := v.(map[string]interface{})
		if !ok {
			return
		}
		for k, inner := range obj {
			rec[prefix+k] = inner
		}
	}
}

// flattenEach flattens every listed sub-object of field as field_sub_key.
func flattenEach(field string, subs ...string) step {
	return func(rec fetch.Record) {
		obj, ok := rec[field].(map[string]interface{})
		if !ok {
			return
		}
		for _, sub := range subs {
			inner, ok := obj[sub].(map[string]interface{})
			if !ok {
				continue
			}
			for k, v := range inner {
				rec[field+"_"+sub+"_"+k] = v
			}
		}
		delete(rec, field)
	}
}

// audit flattens {"user": {"login", "sourceId"}, "timestamp"} objects such
// as created and modified. The timestamp is kept when the user is absent.
func audit(field string) step {
	return func(rec fetch.Record) {
		obj, ok := rec[field].(map[string]interface{})
		if !ok {
			return
		}
		if user, ok := obj["user"].(map[string]interface{}); ok {
			rec[field+"_user_login"] = user["login"]
			rec[field+"_user_sourceId"] = user["sourceId"]
		}
		rec[field+"_timestamp"] = obj["timestamp"]
		delete(rec, field)
	}
}
