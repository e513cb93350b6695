package wiki

import (
	"encoding/json"
	"fmt"
	"io"
)

const maxBody = 2 << 20

func decode(r io.Reader, out any) error {
	if err := json.NewDecoder(io.LimitReader(r, maxBody)).Decode(out); err != nil {
		return fmt.Errorf("decode wikipedia response: %w", err)
	}
	return nil
}
