package sstable

import (
	"bytes"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Cell", func() {
	listType := MustResolve("ListType(Int32Type)").(*CollectionType)
	path := uuid.UUID{15: 0xff}

	itemBytes := []byte{
		0x08,                                                                   // flags: use row timestamp
		0x10,                                                                   // path length
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // path
		0x00, 0x00, 0x00, 0xff,
		0x04,                   // value length
		0x00, 0x00, 0x00, 0x01, // value
	}

	cursorOf := func(p []byte) *cursor {
		return newCursor(bytes.NewReader(p))
	}

	It("should decode/encode simple cells", func() {
		enc := []byte{0x08, 0x00, 0x00, 0x00, 0x01}
		cell, err := readSimpleCell(cursorOf(enc), MustResolve(Int32Type))
		Expect(err).NotTo(HaveOccurred())
		Expect(cell).To(Equal(&SimpleCell{Flags: CellUseRowTimestamp, Value: int32(1)}))
		Expect(appendSimpleCell(nil, MustResolve(Int32Type), cell)).To(Equal(enc))
	})

	It("should decode/encode variable length values", func() {
		enc := []byte{0x08, 0x02, '4', '2'}
		cell, err := readSimpleCell(cursorOf(enc), MustResolve(UTF8Type))
		Expect(err).NotTo(HaveOccurred())
		Expect(cell.Value).To(Equal("42"))
		Expect(appendSimpleCell(nil, MustResolve(UTF8Type), cell)).To(Equal(enc))
	})

	It("should decode/encode liveness deltas", func() {
		enc := []byte{
			0x02,       // flags: expiring
			0x80, 0x80, // timestamp
			0x05, // local deletion time
			0x07, // ttl
			0x00, 0x00, 0x00, 0x2a,
		}
		cell, err := readSimpleCell(cursorOf(enc), MustResolve(Int32Type))
		Expect(err).NotTo(HaveOccurred())
		Expect(cell).To(Equal(&SimpleCell{
			Flags:        CellExpiring,
			CellLiveness: CellLiveness{Timestamp: 128, LocalDeletionTime: 5, TTL: 7},
			Value:        int32(42),
		}))
		Expect(appendSimpleCell(nil, MustResolve(Int32Type), cell)).To(Equal(enc))

		// deleted cells carry no ttl, row ttl suppresses both
		enc = []byte{0x05, 0x01, 0x02}
		cell, err = readSimpleCell(cursorOf(enc), MustResolve(Int32Type))
		Expect(err).NotTo(HaveOccurred())
		Expect(cell).To(Equal(&SimpleCell{
			Flags:        CellDeleted | CellHasEmptyValue,
			CellLiveness: CellLiveness{Timestamp: 1, LocalDeletionTime: 2},
		}))

		enc = []byte{0x1e}
		cell, err = readSimpleCell(cursorOf(enc), MustResolve(Int32Type))
		Expect(err).NotTo(HaveOccurred())
		Expect(cell).To(Equal(&SimpleCell{Flags: CellExpiring | CellHasEmptyValue | CellUseRowTimestamp | CellUseRowTTL}))
		Expect(appendSimpleCell(nil, MustResolve(Int32Type), cell)).To(Equal(enc))
	})

	It("should decode/encode complex cell items", func() {
		item, err := readCellItem(cursorOf(itemBytes), listType)
		Expect(err).NotTo(HaveOccurred())
		Expect(item).To(Equal(&CellItem{Flags: CellUseRowTimestamp, Path: path, Value: int32(1)}))
		Expect(appendCellItem(nil, listType, item)).To(Equal(itemBytes))
	})

	It("should decode/encode complex cells", func() {
		enc := append([]byte{0x00, 0x00, 0x01}, itemBytes...)
		cell, err := readComplexCell(cursorOf(enc), listType)
		Expect(err).NotTo(HaveOccurred())
		Expect(cell).To(Equal(&ComplexCell{
			Items: []*CellItem{{Flags: CellUseRowTimestamp, Path: path, Value: int32(1)}},
		}))
		Expect(appendComplexCell(nil, listType, cell)).To(Equal(enc))
	})

	It("should decode/encode set and map items", func() {
		setType := MustResolve("SetType(UTF8Type)").(*CollectionType)
		enc := []byte{0x0c, 0x01, 'a'}
		item, err := readCellItem(cursorOf(enc), setType)
		Expect(err).NotTo(HaveOccurred())
		Expect(item).To(Equal(&CellItem{Flags: CellUseRowTimestamp | CellHasEmptyValue, Path: "a"}))
		Expect(appendCellItem(nil, setType, item)).To(Equal(enc))

		mapType := MustResolve("MapType(UTF8Type,LongType)").(*CollectionType)
		enc = []byte{0x08, 0x01, 'k', 0x08, 0, 0, 0, 0, 0, 0, 0, 0x09}
		item, err = readCellItem(cursorOf(enc), mapType)
		Expect(err).NotTo(HaveOccurred())
		Expect(item).To(Equal(&CellItem{Flags: CellUseRowTimestamp, Path: "k", Value: int64(9)}))
		Expect(appendCellItem(nil, mapType, item)).To(Equal(enc))
	})

	It("should report truncation offsets", func() {
		_, err := readSimpleCell(cursorOf([]byte{0x08, 0x00, 0x00}), MustResolve(Int32Type))
		Expect(err).To(MatchError(ErrTruncated))
		Expect(Offset(err)).To(Equal(int64(1)))

		_, err = readCellItem(cursorOf(itemBytes[:10]), listType)
		Expect(err).To(MatchError(ErrTruncated))
		Expect(Offset(err)).To(Equal(int64(2)))
	})

	It("should reject liveness values excluded by flags", func() {
		_, err := appendSimpleCell(nil, MustResolve(Int32Type), &SimpleCell{
			Flags:        CellUseRowTimestamp,
			CellLiveness: CellLiveness{Timestamp: 99},
			Value:        int32(1),
		})
		Expect(err).To(MatchError(ErrInconsistentSchema))
		Expect(err).To(MatchError(ContainSubstring("cell timestamp")))

		_, err = appendSimpleCell(nil, MustResolve(Int32Type), &SimpleCell{
			Flags:        CellExpiring | CellUseRowTTL,
			CellLiveness: CellLiveness{Timestamp: 1, TTL: 7},
			Value:        int32(1),
		})
		Expect(err).To(MatchError(ErrInconsistentSchema))
		Expect(err).To(MatchError(ContainSubstring("cell ttl")))

		_, err = appendSimpleCell(nil, MustResolve(Int32Type), &SimpleCell{
			CellLiveness: CellLiveness{LocalDeletionTime: 5},
			Value:        int32(1),
		})
		Expect(err).To(MatchError(ErrInconsistentSchema))

		_, err = appendCellItem(nil, listType, &CellItem{
			Flags:        CellUseRowTimestamp,
			CellLiveness: CellLiveness{Timestamp: 3},
			Path:         path,
			Value:        int32(1),
		})
		Expect(err).To(MatchError(ErrInconsistentSchema))
	})

	It("should reject text values which cannot be re-encoded", func() {
		_, err := readSimpleCell(cursorOf([]byte{0x08, 0x02, 0xc3, 0x28}), MustResolve(UTF8Type))
		Expect(err).To(MatchError(ErrInconsistentSchema))
		Expect(Offset(err)).To(Equal(int64(1)))

		_, err = readSimpleCell(cursorOf([]byte{0x08, 0x01, 0x80}), MustResolve(AsciiType))
		Expect(err).To(MatchError(ErrInconsistentSchema))
		Expect(Offset(err)).To(Equal(int64(1)))
	})

	It("should reject inconsistent empty values", func() {
		_, err := appendSimpleCell(nil, MustResolve(Int32Type), &SimpleCell{Flags: CellHasEmptyValue, Value: int32(1)})
		Expect(err).To(MatchError(ErrInconsistentSchema))

		_, err = appendSimpleCell(nil, MustResolve(Int32Type), &SimpleCell{})
		Expect(err).To(MatchError(ErrInconsistentSchema))
	})
})
