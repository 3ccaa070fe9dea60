package relay

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// MaxBlobSize is the largest media object the relay serves.
const MaxBlobSize = 5 << 20

func (c *Client) blobPath(messageID int64) string {
	return "media/" + url.PathEscape(c.account.AccountID()) + "/" + strconv.FormatInt(messageID, 10)
}

// PutBlob stores encrypted media bytes under accountId/messageId.
func (c *Client) PutBlob(ctx context.Context, messageID int64, blob []byte) Status {
	if len(blob) > MaxBlobSize {
		return StatusPermanent
	}
	return c.do(ctx, "media", "put", http.MethodPut, c.blobPath(messageID), nil, blob, maxJSONBody).status
}

// GetBlob fetches encrypted media bytes. Objects above MaxBlobSize are refused as
// StatusPermanent.
func (c *Client) GetBlob(ctx context.Context, messageID int64) ([]byte, Status) {
	res := c.do(ctx, "media", "get", http.MethodGet, c.blobPath(messageID), nil, nil, MaxBlobSize)
	if !res.status.OK() {
		return nil, res.status
	}
	return res.body, StatusOK
}
