package table

import (
	"encoding/binary"
	"encoding/json"

	"github.com/yinglichina8848/sqlcc-sub002/storage/buffer"
	"github.com/yinglichina8848/sqlcc-sub002/storage/errs"
	"github.com/yinglichina8848/sqlcc-sub002/storage/page"
)

// TableMetadata is the catalog's record for one table: per spec §3, a
// stable name, its column schema, the head/tail of its table page chain,
// and the Table Index Catalog entries (column name -> B+ tree root page)
// for every index built on it.
type TableMetadata struct {
	Name     string
	Schema   Schema
	HeadPage page.ID
	TailPage page.ID
	Indexes  map[string]page.ID
}

type catalogBlob struct {
	Tables map[string]TableMetadata
}

// writeBlobChain persists data across a newly allocated chain of system
// pages and returns its head. It frees no earlier chain; saveCatalog frees
// the previous one after the new chain is written.
func writeBlobChain(pool *buffer.Pool, pageSize int, data []byte) (page.ID, error) {
	chunk := page.UsableSize(pageSize) - 4 // 4-byte length prefix on the first page
	var pages []*buffer.Handle
	var ids []page.ID

	first := true
	off := 0
	for off < len(data) || len(pages) == 0 {
		h, err := pool.NewPage()
		if err != nil {
			for _, p := range pages {
				_ = pool.UnpinPage(p.PageIDv, true)
			}
			return page.InvalidID, err
		}
		pages = append(pages, h)
		ids = append(ids, h.PageIDv)

		body := page.UsableSize(pageSize)
		n := body
		if first {
			n = chunk
		}
		if off+n > len(data) {
			n = len(data) - off
		}
		if n < 0 {
			n = 0
		}
		off += n
		first = false
		if off >= len(data) {
			break
		}
	}

	off = 0
	for i, h := range pages {
		var next page.ID = page.InvalidID
		if i+1 < len(pages) {
			next = ids[i+1]
		}
		hdr := page.Header{Type: page.TypeSystem, PageID: h.PageIDv, PrevPageID: page.InvalidID, NextPageID: next}
		body := page.UsableSize(pageSize)
		start := page.HeaderSize
		if i == 0 {
			binary.LittleEndian.PutUint32(h.Data[start:], uint32(len(data)))
			start += 4
			body = chunk
		}
		n := body
		if off+n > len(data) {
			n = len(data) - off
		}
		if n > 0 {
			copy(h.Data[start:], data[off:off+n])
		}
		off += n
		hdr.FreeSpaceOffset = uint16(pageSize - page.FooterSize)
		page.PutHeader(h.Data, hdr)
		page.SetChecksum(h.Data)
		if err := pool.UnpinPage(h.PageIDv, true); err != nil {
			return page.InvalidID, err
		}
	}
	return ids[0], nil
}

func readBlobChain(pool *buffer.Pool, pageSize int, head page.ID) ([]byte, error) {
	if head == page.InvalidID {
		return nil, nil
	}
	h, err := pool.FetchPage(head)
	if err != nil {
		return nil, err
	}
	total := binary.LittleEndian.Uint32(h.Data[page.HeaderSize:])
	out := make([]byte, 0, total)
	chunk := h.Data[page.HeaderSize+4 : pageSize-page.FooterSize]
	if int(total) < len(chunk) {
		chunk = chunk[:total]
	}
	out = append(out, chunk...)
	next := page.GetHeader(h.Data).NextPageID
	if err := pool.UnpinPage(head, false); err != nil {
		return nil, err
	}
	for next != page.InvalidID && len(out) < int(total) {
		h, err := pool.FetchPage(next)
		if err != nil {
			return nil, err
		}
		body := h.Data[page.HeaderSize : pageSize-page.FooterSize]
		remain := int(total) - len(out)
		if remain < len(body) {
			body = body[:remain]
		}
		out = append(out, body...)
		nextHdr := page.GetHeader(h.Data)
		if err := pool.UnpinPage(next, false); err != nil {
			return nil, err
		}
		next = nextHdr.NextPageID
	}
	return out, nil
}

func freeBlobChain(pool *buffer.Pool, head page.ID) error {
	for head != page.InvalidID {
		h, err := pool.FetchPage(head)
		if err != nil {
			return err
		}
		next := page.GetHeader(h.Data).NextPageID
		if err := pool.UnpinPage(head, false); err != nil {
			return err
		}
		if err := pool.DeletePage(head); err != nil {
			return err
		}
		head = next
	}
	return nil
}

func loadCatalog(pool *buffer.Pool, pageSize int, root page.ID) (map[string]TableMetadata, error) {
	data, err := readBlobChain(pool, pageSize, root)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return map[string]TableMetadata{}, nil
	}
	var blob catalogBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, errs.Wrap(errs.CorruptPage, "table.loadCatalog", err)
	}
	if blob.Tables == nil {
		blob.Tables = map[string]TableMetadata{}
	}
	return blob.Tables, nil
}

func saveCatalog(pool *buffer.Pool, pageSize int, oldRoot page.ID, tables map[string]TableMetadata) (page.ID, error) {
	data, err := json.Marshal(catalogBlob{Tables: tables})
	if err != nil {
		return page.InvalidID, errs.Wrap(errs.IoFailure, "table.saveCatalog", err)
	}
	newRoot, err := writeBlobChain(pool, pageSize, data)
	if err != nil {
		return page.InvalidID, err
	}
	if oldRoot != page.InvalidID {
		if err := freeBlobChain(pool, oldRoot); err != nil {
			return page.InvalidID, err
		}
	}
	return newRoot, nil
}
