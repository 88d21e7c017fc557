package sstable_test

import (
	"bytes"
	"io"
	"io/ioutil"

	"github.com/bsm/sstable"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
)

var _ = Describe("CompressedReader", func() {
	var schema *sstable.Schema
	var data, comp []byte
	var info *sstable.CompressionInfo
	var subject *sstable.CompressedReader

	// The following will seed 500 partitions of 35 bytes each into
	// 18 chunks of 1KiB.
	BeforeEach(func() {
		schema = seedSchema(seedHeader())
		data = seedData(schema, 500)
		comp, info = seedCompressed(data, &sstable.CompressedWriterOptions{ChunkLength: 1024})

		var err error
		subject, err = sstable.NewCompressedReader(bytes.NewReader(comp), int64(len(comp)), info)
		Expect(err).NotTo(HaveOccurred())
	})

	It("should init", func() {
		Expect(subject.Size()).To(Equal(int64(17500)))
		Expect(subject.NumChunks()).To(Equal(18))
	})

	It("should decompress chunks", func() {
		chunk, err := subject.AppendChunk(nil, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(chunk).To(Equal(data[:1024]))

		chunk, err = subject.AppendChunk([]byte("x"), 17)
		Expect(err).NotTo(HaveOccurred())
		Expect(chunk).To(Equal(append([]byte("x"), data[17*1024:]...)))

		_, err = subject.AppendChunk(nil, 18)
		Expect(err).To(MatchError(`sstable: chunk 18 out of range`))
		_, err = subject.AppendChunk(nil, -1)
		Expect(err).To(HaveOccurred())
	})

	It("should read at", func() {
		p := make([]byte, 100)
		Expect(subject.ReadAt(p, 1000)).To(Equal(100))
		Expect(p).To(Equal(data[1000:1100]))

		n, err := subject.ReadAt(p, 17450)
		Expect(err).To(Equal(io.EOF))
		Expect(n).To(Equal(50))
		Expect(p[:n]).To(Equal(data[17450:]))

		n, err = subject.ReadAt(p, 17500)
		Expect(err).To(Equal(io.EOF))
		Expect(n).To(Equal(0))

		all, err := ioutil.ReadAll(io.NewSectionReader(subject, 0, subject.Size()))
		Expect(err).NotTo(HaveOccurred())
		Expect(all).To(Equal(data))
	})

	It("should read partitions", func() {
		parts, err := sstable.ReadData(subject, subject.Size(), schema, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(parts).To(HaveLen(500))
		Expect(parts[499].Key(schema)).To(Equal(int32(499)))
	})

	It("should verify checksums", func() {
		comp[5]++
		subject, err := sstable.NewCompressedReader(bytes.NewReader(comp), int64(len(comp)), info)
		Expect(err).NotTo(HaveOccurred())

		_, err = subject.AppendChunk(nil, 0)
		Expect(err).To(MatchError(sstable.ErrBadChecksum))
		Expect(sstable.Offset(err)).To(Equal(int64(0)))

		_, err = subject.AppendChunk(nil, 1)
		Expect(err).NotTo(HaveOccurred())

		_, err = sstable.ReadData(subject, subject.Size(), schema, nil)
		Expect(err).To(MatchError(sstable.ErrBadChecksum))
	})

	It("should reject truncated input", func() {
		_, err := sstable.NewCompressedReader(bytes.NewReader(comp), int64(info.Offsets[17]+3), info)
		Expect(err).To(MatchError(sstable.ErrTruncated))

		subject, err := sstable.NewCompressedReader(bytes.NewReader(comp[:len(comp)-2]), int64(len(comp)), info)
		Expect(err).NotTo(HaveOccurred())
		_, err = subject.AppendChunk(nil, 17)
		Expect(err).To(MatchError(sstable.ErrTruncated))
		Expect(sstable.Offset(err)).To(Equal(int64(info.Offsets[17])))
	})

	It("should reject inconsistent info", func() {
		bad := *info
		bad.Compressor = "BrotliCompressor"
		_, err := sstable.NewCompressedReader(bytes.NewReader(comp), int64(len(comp)), &bad)
		Expect(err).To(MatchError(sstable.ErrBadCompression))

		bad = *info
		bad.DataLength += 1024
		_, err = sstable.NewCompressedReader(bytes.NewReader(comp), int64(len(comp)), &bad)
		Expect(err).To(MatchError(sstable.ErrBadCompression))

		bad = *info
		bad.Compressor = "SnappyCompressor"
		subject, err := sstable.NewCompressedReader(bytes.NewReader(comp), int64(len(comp)), &bad)
		Expect(err).NotTo(HaveOccurred())
		_, err = subject.AppendChunk(nil, 0)
		Expect(err).To(MatchError(sstable.ErrBadCompression))
	})

	DescribeTable("should round-trip",
		func(o *sstable.CompressedWriterOptions) {
			comp, info := seedCompressed(data, o)

			enc, err := sstable.AppendCompressionInfo(nil, info)
			Expect(err).NotTo(HaveOccurred())
			info, err = sstable.ReadCompressionInfo(bytes.NewReader(enc))
			Expect(err).NotTo(HaveOccurred())

			subject, err := sstable.NewCompressedReader(bytes.NewReader(comp), int64(len(comp)), info)
			Expect(err).NotTo(HaveOccurred())

			parts, err := sstable.ReadData(subject, subject.Size(), schema, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(parts).To(HaveLen(500))
			Expect(parts[0].Rows()[0].Body.Cells[0].(*sstable.SimpleCell).Value).To(Equal("value-0000"))
			Expect(parts[499].Rows()[0].Body.Cells[0].(*sstable.SimpleCell).Value).To(Equal("value-0499"))
		},
		Entry("default", (*sstable.CompressedWriterOptions)(nil)),
		Entry("snappy", &sstable.CompressedWriterOptions{Compression: sstable.SnappyCompression, ChunkLength: 4096}),
		Entry("lz4", &sstable.CompressedWriterOptions{Compression: sstable.LZ4Compression, ChunkLength: 4096}),
		Entry("deflate", &sstable.CompressedWriterOptions{Compression: sstable.DeflateCompression, ChunkLength: 4096}),
		Entry("zstd", &sstable.CompressedWriterOptions{Compression: sstable.ZstdCompression, ChunkLength: 4096}),
		Entry("small chunks", &sstable.CompressedWriterOptions{Compression: sstable.ZstdCompression, ChunkLength: 7}),
		Entry("min ratio", &sstable.CompressedWriterOptions{ChunkLength: 1024, MinCompressRatio: 64}),
	)

	It("should read uncompressed chunks", func() {
		plain := seedRandom(1954)
		comp, info := seedCompressed(plain, &sstable.CompressedWriterOptions{ChunkLength: 1024, MinCompressRatio: 1.1})

		subject, err := sstable.NewCompressedReader(bytes.NewReader(comp), int64(len(comp)), info)
		Expect(err).NotTo(HaveOccurred())
		Expect(subject.AppendChunk(nil, 0)).To(Equal(plain[:1024]))
		Expect(subject.AppendChunk(nil, 1)).To(Equal(plain[1024:]))
	})
})
