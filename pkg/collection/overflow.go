package collection

import (
	"github.com/klauspost/compress/zstd"

	"tinydb/pkg/storage"
	"tinydb/pkg/txn"
)

// inlineBudget is the largest encoded document body storeBody will
// keep in the heap directly. Anything bigger is zstd-compressed and
// spilled into a chain of storage.PageTypeOverflow pages, leaving only
// a small stub (the chain's root page id) in the heap slot; §4.2's
// overflow story is page-size-indifferent, so this is sized off the
// page payload rather than a fixed constant.
func inlineBudget(file *storage.File) int {
	return file.PageSize() - storage.HeaderSize - storage.TrailerSize - recordHeaderSize - 64
}

var zstdEncoder, _ = zstd.NewWriter(nil)

func compressOverflow(body []byte) []byte {
	return zstdEncoder.EncodeAll(body, nil)
}

func decompressOverflow(compressed []byte) ([]byte, error) {
	d, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer d.Close()
	return d.DecodeAll(compressed, nil)
}

// writeOverflow compresses body and chains it across
// storage.PageTypeOverflow pages, returning the chain's root page id.
func writeOverflow(tx *txn.Txn, body []byte) (uint32, error) {
	compressed := compressOverflow(body)
	return writeChainTyped(tx, compressed, storage.PageTypeOverflow)
}

// readOverflow reassembles and decompresses the chain rooted at id.
func readOverflow(tx *txn.Txn, root uint32) ([]byte, error) {
	compressed, err := readChain(tx, root)
	if err != nil {
		return nil, err
	}
	return decompressOverflow(compressed)
}
