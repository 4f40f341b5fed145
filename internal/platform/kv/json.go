package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// GetJSON decodes the value stored at key into dst.
func GetJSON(ctx context.Context, tx Tx, key string, dst any) error {
	raw, err := tx.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("kv: decode %s: %w", key, err)
	}
	return nil
}

// PutJSON encodes value and stores it at key.
func PutJSON(tx Tx, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kv: encode %s: %w", key, err)
	}
	return tx.Put(key, raw)
}

// ScanJSON decodes every value under prefix, ordered by key.
func ScanJSON[T any](ctx context.Context, tx Tx, prefix string) ([]T, error) {
	pairs, err := tx.Scan(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(pairs))
	for _, p := range pairs {
		var item T
		if err := json.Unmarshal(p.Value, &item); err != nil {
			return nil, fmt.Errorf("kv: decode %s: %w", p.Key, err)
		}
		out = append(out, item)
	}
	return out, nil
}

// NextSequence increments and returns the counter stored at key.
func NextSequence(ctx context.Context, tx Tx, key string) (int64, error) {
	var current int64
	raw, err := tx.Get(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return 0, err
	default:
		current, err = strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("kv: corrupt sequence %s: %w", key, err)
		}
	}
	current++
	if err := tx.Put(key, []byte(strconv.FormatInt(current, 10))); err != nil {
		return 0, err
	}
	return current, nil
}
