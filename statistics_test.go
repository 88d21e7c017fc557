package sstable_test

import (
	"bytes"

	"github.com/bsm/sstable"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Statistics", func() {
	var subject *sstable.Statistics

	hostID := uuid.MustParse("0d5a4b0c-7e58-4f1c-a2f5-6b1d4c1e9f00")

	// header-only component with an Int32Type partition key and a single
	// UTF8Type regular column
	headerOnly := cat(
		[]byte{0, 0, 0, 1}, // count
		[]byte{0, 0, 0, 3}, // type
		[]byte{0, 0, 0, 12},
		[]byte{0, 0, 0}, // min timestamp, local deletion time, ttl
		[]byte{41}, []byte(sstable.Int32Type),
		[]byte{0}, // clustering
		[]byte{0}, // static
		[]byte{1},
		[]byte{4}, []byte("col1"),
		[]byte{40}, []byte(sstable.UTF8Type),
	)

	BeforeEach(func() {
		subject = &sstable.Statistics{
			TOC: []sstable.TOCEntry{
				{Type: sstable.ValidationMetadata},
				{Type: sstable.CompactionMetadata},
				{Type: sstable.StatisticsMetadata},
				{Type: sstable.SerializationMetadata},
			},
			Validation: &sstable.ValidationSection{
				Partitioner:         "org.apache.cassandra.dht.Murmur3Partitioner",
				BloomFilterFPChance: 0.01,
			},
			Compaction: &sstable.CompactionSection{
				Cardinality: []byte{0xfe, 0xed, 0xbe, 0xef},
			},
			Stats: &sstable.StatsSection{
				PartitionSizes:       []sstable.HistogramBucket{{Bound: 1, Count: 0}, {Bound: 2, Count: 7}},
				ColumnCounts:         []sstable.HistogramBucket{{Bound: 1, Count: 7}},
				CommitLogUpperBound:  sstable.CommitLogPosition{SegmentID: 1700000000000, Position: 512},
				MinTimestamp:         1700000000000000,
				MaxTimestamp:         1700000000999999,
				MinLocalDeletionTime: 1700000000,
				MaxLocalDeletionTime: 2147483647,
				MinTTL:               0,
				MaxTTL:               3600,
				CompressionRatio:     -1,
				Tombstones:           sstable.StreamingHistogram{MaxBins: 100, Buckets: []sstable.HistogramBucket{{Bound: 1700000000, Count: 1}}},
				Level:                0,
				RepairedAt:           0,
				MinClusteringKey:     [][]byte{{0, 0, 0, 1}},
				MaxClusteringKey:     [][]byte{{0, 0, 0, 9}},
				HasLegacyCounters:    false,
				NumberOfColumns:      1,
				NumberOfRows:         7,
				CommitLogLowerBound:  sstable.CommitLogPosition{SegmentID: 1700000000000, Position: 28},
				CommitLogIntervals: []sstable.CommitLogInterval{
					{Start: sstable.CommitLogPosition{SegmentID: 1700000000000, Position: 28}, End: sstable.CommitLogPosition{SegmentID: 1700000000000, Position: 512}},
				},
				HostID: &hostID,
			},
			Header: &sstable.SerializationHeader{
				MinTimestamp:         1700000000000000,
				MinLocalDeletionTime: 1700000000,
				MinTTL:               0,
				PartitionKeyType:     sstable.Int32Type,
				ClusteringKeyTypes:   []string{sstable.LongType},
				StaticColumns:        []sstable.ColumnDef{{Name: "s", Type: sstable.BooleanType}},
				RegularColumns: []sstable.ColumnDef{
					{Name: "col1", Type: sstable.UTF8Type},
					{Name: "tags", Type: "org.apache.cassandra.db.marshal.SetType(org.apache.cassandra.db.marshal.UTF8Type)"},
				},
			},
		}
	})

	It("should decode header-only components", func() {
		st, err := sstable.ReadStatistics(bytes.NewReader(headerOnly))
		Expect(err).NotTo(HaveOccurred())
		Expect(st.TOC).To(Equal([]sstable.TOCEntry{{Type: sstable.SerializationMetadata, Offset: 12}}))
		Expect(st.Validation).To(BeNil())
		Expect(st.Compaction).To(BeNil())
		Expect(st.Stats).To(BeNil())
		Expect(st.Header).To(Equal(seedHeader()))

		Expect(sstable.AppendStatistics(nil, st)).To(Equal(headerOnly))
	})

	It("should encode/decode", func() {
		enc, err := sstable.AppendStatistics(nil, subject)
		Expect(err).NotTo(HaveOccurred())

		st, err := sstable.ReadStatistics(bytes.NewReader(enc))
		Expect(err).NotTo(HaveOccurred())
		Expect(st.TOC).To(HaveLen(4))
		Expect(st.TOC[0].Offset).To(Equal(uint32(36)))
		Expect(st.Validation).To(Equal(subject.Validation))
		Expect(st.Compaction).To(Equal(subject.Compaction))
		Expect(st.Stats).To(Equal(subject.Stats))
		Expect(st.Header).To(Equal(subject.Header))

		// offsets are now set and must be honoured
		Expect(sstable.AppendStatistics(nil, st)).To(Equal(enc))

		buf := new(bytes.Buffer)
		Expect(st.WriteTo(buf)).To(Equal(int64(len(enc))))
		Expect(buf.Bytes()).To(Equal(enc))
	})

	It("should omit absent host ids", func() {
		subject.Stats.HostID = nil
		enc, err := sstable.AppendStatistics(nil, subject)
		Expect(err).NotTo(HaveOccurred())

		st, err := sstable.ReadStatistics(bytes.NewReader(enc))
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Stats.HostID).To(BeNil())
	})

	It("should resolve schemas", func() {
		s, err := sstable.SchemaOf(subject)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.PartitionKey.Name()).To(Equal(sstable.Int32Type))
		Expect(s.Clustering).To(HaveLen(1))
		Expect(s.Static).To(HaveLen(1))
		Expect(s.Regular).To(HaveLen(2))
		Expect(s.Regular[1].Type).To(BeAssignableToTypeOf(&sstable.CollectionType{}))

		subject.Header.RegularColumns[0].Type = "UserType"
		_, err = sstable.SchemaOf(subject)
		Expect(err).To(MatchError(sstable.ErrUnsupportedType))
		Expect(err).To(MatchError(ContainSubstring(`column "col1"`)))

		_, err = sstable.NewSchema(nil)
		Expect(err).To(MatchError(sstable.ErrInconsistentSchema))
	})

	It("should reject mismatching offsets", func() {
		subject.TOC[1].Offset = 99
		_, err := sstable.AppendStatistics(nil, subject)
		Expect(err).To(MatchError(sstable.ErrInconsistentSchema))

		enc := append([]byte{}, headerOnly...)
		enc[11] = 13
		_, err = sstable.ReadStatistics(bytes.NewReader(enc))
		Expect(err).To(MatchError(sstable.ErrInconsistentSchema))
		Expect(sstable.Offset(err)).To(Equal(int64(12)))
	})

	It("should reject sections missing from the TOC", func() {
		subject.TOC = subject.TOC[:3]
		_, err := sstable.AppendStatistics(nil, subject)
		Expect(err).To(MatchError(sstable.ErrInconsistentSchema))

		subject.TOC = append(subject.TOC, sstable.TOCEntry{Type: sstable.StatisticsMetadata})
		_, err = sstable.AppendStatistics(nil, subject)
		Expect(err).To(MatchError(sstable.ErrInconsistentSchema))
	})

	It("should reject unknown section types", func() {
		enc := append([]byte{}, headerOnly...)
		enc[7] = 9
		_, err := sstable.ReadStatistics(bytes.NewReader(enc))
		Expect(err).To(MatchError(sstable.ErrUnsupportedType))
	})

	It("should reject truncated input", func() {
		for _, n := range []int{0, 3, 11, 12, 20, len(headerOnly) - 1} {
			_, err := sstable.ReadStatistics(bytes.NewReader(headerOnly[:n]))
			Expect(err).To(MatchError(sstable.ErrTruncated), "for %d bytes", n)
			Expect(sstable.Offset(err)).To(BeNumerically("<=", n))
		}
	})
})
