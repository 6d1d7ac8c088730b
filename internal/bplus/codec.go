package bplus

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"txndb/internal/dbtypes"
	"txndb/internal/page"
	"txndb/internal/value"
)

// Node page layout, adapted from the teacher's node_to_index_page.go but
// keyed on composite value.Key instead of a single []byte column:
//
//	offset 0:  LSN                (8 bytes)
//	offset 8:  PageType           (1 byte, stamped by diskmgr)
//	offset 9:  NodeType           (1 byte)
//	offset 10: NumKeys            (2 bytes)
//	offset 12: ParentID           (8 bytes, dbtypes.InvalidPageID if none)
//	offset 20: NextLeaf           (8 bytes, leaf only)
//	offset 28: PrevLeaf           (8 bytes, leaf only)
//	offset 36: children/keys/values
const (
	nodeHeaderSize  = 36
	offNodeType     = 9
	offNumKeys      = 10
	offParentID     = 12
	offNextLeaf     = 20
	offPrevLeaf     = 28
	offBody         = nodeHeaderSize

	rowPointerWidth = 10 // FileID(4) + PageNo(4) + SlotNo(2)
)

func (t *Tree) keyWidth() int {
	w := 0
	for _, s := range t.keySpecs {
		w += s.Width()
	}
	return w
}

// encodeNode serializes n into pg's frame.
func (t *Tree) encodeNode(pg *page.Page, n *Node) error {
	kw := t.keyWidth()
	data := pg.Data

	if n.nodeType == NodeLeaf {
		data[offNodeType] = 1
	} else {
		data[offNodeType] = 0
	}
	binary.LittleEndian.PutUint16(data[offNumKeys:], uint16(len(n.keys)))
	binary.LittleEndian.PutUint64(data[offParentID:], uint64(n.parent))
	binary.LittleEndian.PutUint64(data[offNextLeaf:], uint64(n.next))
	binary.LittleEndian.PutUint64(data[offPrevLeaf:], uint64(n.prev))

	off := offBody
	if n.nodeType == NodeInternal {
		for _, c := range n.children {
			binary.LittleEndian.PutUint64(data[off:], uint64(c))
			off += 8
		}
	}
	for _, k := range n.keys {
		kb, err := value.EncodeKey(k, t.keySpecs)
		if err != nil {
			return errors.Wrap(err, "bplus: encode key")
		}
		if len(kb) != kw {
			return errors.Errorf("bplus: encoded key width mismatch, want %d got %d", kw, len(kb))
		}
		copy(data[off:], kb)
		off += kw
	}
	if n.nodeType == NodeLeaf {
		for _, v := range n.values {
			copy(data[off:], v)
			off += rowPointerWidth
		}
	}
	pg.PageType = dbtypes.PageTypeBPlusNode
	return nil
}

// decodeNode deserializes pg's frame into a Node.
func (t *Tree) decodeNode(pg *page.Page) (*Node, error) {
	kw := t.keyWidth()
	data := pg.Data

	n := &Node{pageID: pg.ID}
	if data[offNodeType] == 1 {
		n.nodeType = NodeLeaf
	} else {
		n.nodeType = NodeInternal
	}
	numKeys := int(binary.LittleEndian.Uint16(data[offNumKeys:]))
	n.parent = int64(binary.LittleEndian.Uint64(data[offParentID:]))
	n.next = int64(binary.LittleEndian.Uint64(data[offNextLeaf:]))
	n.prev = int64(binary.LittleEndian.Uint64(data[offPrevLeaf:]))

	off := offBody
	if n.nodeType == NodeInternal {
		n.children = make([]int64, numKeys+1)
		for i := range n.children {
			n.children[i] = int64(binary.LittleEndian.Uint64(data[off:]))
			off += 8
		}
	}
	n.keys = make([]value.Key, numKeys)
	for i := 0; i < numKeys; i++ {
		k, err := value.DecodeKey(data[off:off+kw], t.keySpecs)
		if err != nil {
			return nil, errors.Wrap(err, "bplus: decode key")
		}
		n.keys[i] = k
		off += kw
	}
	if n.nodeType == NodeLeaf {
		n.values = make([][]byte, numKeys)
		for i := 0; i < numKeys; i++ {
			v := make([]byte, rowPointerWidth)
			copy(v, data[off:off+rowPointerWidth])
			n.values[i] = v
			off += rowPointerWidth
		}
	}
	return n, nil
}

// EncodeRowPointer packs a heap row pointer into the fixed-width value
// form stored in leaf entries.
func EncodeRowPointer(r dbtypes.RowPointer) []byte {
	buf := make([]byte, rowPointerWidth)
	binary.LittleEndian.PutUint32(buf[0:], r.FileID)
	binary.LittleEndian.PutUint32(buf[4:], r.PageNo)
	binary.LittleEndian.PutUint16(buf[8:], r.SlotNo)
	return buf
}

func DecodeRowPointer(buf []byte) dbtypes.RowPointer {
	return dbtypes.RowPointer{
		FileID: binary.LittleEndian.Uint32(buf[0:]),
		PageNo: binary.LittleEndian.Uint32(buf[4:]),
		SlotNo: binary.LittleEndian.Uint16(buf[8:]),
	}
}
