package main

import (
	"encoding/json"
	"fmt"

	"github.com/hibervm-dev/hibervm/interp"
	"github.com/hibervm-dev/hibervm/runfile"
)

// hostValueToAny converts a HostValue into JSON-marshalable data. Bytes
// render as strings since JSON has no byte type.
func hostValueToAny(hv interp.HostValue) any {
	switch hv.Kind {
	case interp.HostNone:
		return nil
	case interp.HostBool:
		return hv.Bool
	case interp.HostInt:
		return hv.Int
	case interp.HostFloat:
		return hv.Float
	case interp.HostStr:
		return hv.Str
	case interp.HostBytes:
		return string(hv.Bytes)
	case interp.HostList:
		out := make([]any, 0, len(hv.List))
		for _, e := range hv.List {
			out = append(out, hostValueToAny(e))
		}
		return out
	case interp.HostDict:
		out := make(map[string]any, len(hv.Dict))
		for _, e := range hv.Dict {
			out[e.Key] = hostValueToAny(e.Value)
		}
		return out
	default:
		return fmt.Sprintf("<unknown kind %d>", hv.Kind)
	}
}

func hostValueJSON(hv interp.HostValue) string {
	b, err := json.Marshal(hostValueToAny(hv))
	if err != nil {
		return fmt.Sprintf("<unencodable: %s>", err)
	}
	return string(b)
}

// hostValueFromJSON parses a JSON literal into a HostValue.
func hostValueFromJSON(src string) (interp.HostValue, error) {
	var raw any
	if err := json.Unmarshal([]byte(src), &raw); err != nil {
		return interp.HostValue{}, fmt.Errorf("parsing result: %w", err)
	}
	return runfile.HostValueFromAny(raw)
}
