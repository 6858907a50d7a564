package session

import "github.com/otj-daplink/daplinkd/pkg/errs"

// encoding/json decodes every wire number as float64; these helpers
// narrow and range-check them for the register/memory commands.

func argFloat(args map[string]interface{}, key string) (float64, error) {
	v, ok := args[key]
	if !ok {
		return 0, errs.NewCommandError("session: missing argument %q", key)
	}
	f, ok := v.(float64)
	if !ok {
		return 0, errs.NewCommandError("session: argument %q is not a number", key)
	}
	return f, nil
}

func argUint16(args map[string]interface{}, key string) (uint16, error) {
	f, err := argFloat(args, key)
	if err != nil {
		return 0, err
	}
	if f < 0 || f > 0xFFFF {
		return 0, errs.NewCommandError("session: argument %q out of uint16 range", key)
	}
	return uint16(f), nil
}

func argByte(args map[string]interface{}, key string) (byte, error) {
	f, err := argFloat(args, key)
	if err != nil {
		return 0, err
	}
	if f < 0 || f > 0xFF {
		return 0, errs.NewCommandError("session: argument %q out of byte range", key)
	}
	return byte(f), nil
}

func argUint32(args map[string]interface{}, key string) (uint32, error) {
	f, err := argFloat(args, key)
	if err != nil {
		return 0, err
	}
	if f < 0 || f > 0xFFFFFFFF {
		return 0, errs.NewCommandError("session: argument %q out of uint32 range", key)
	}
	return uint32(f), nil
}

func argInt(args map[string]interface{}, key string) (int, error) {
	f, err := argFloat(args, key)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

func argUint32Slice(args map[string]interface{}, key string) ([]uint32, error) {
	v, ok := args[key]
	if !ok {
		return nil, errs.NewCommandError("session: missing argument %q", key)
	}
	raw, ok := v.([]interface{})
	if !ok {
		return nil, errs.NewCommandError("session: argument %q is not an array", key)
	}
	out := make([]uint32, len(raw))
	for i, elem := range raw {
		f, ok := elem.(float64)
		if !ok || f < 0 || f > 0xFFFFFFFF {
			return nil, errs.NewCommandError("session: argument %q[%d] is not a valid uint32", key, i)
		}
		out[i] = uint32(f)
	}
	return out, nil
}
