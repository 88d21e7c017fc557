/*
Package sstable reads and writes the components of Apache Cassandra "big"
format SSTables: Statistics.db, Data.db and CompressionInfo.db.

Data.db cannot be decoded on its own. Its column names and types live in the
serialization header of Statistics.db, so a typical reader first calls
ReadStatistics, resolves a Schema via SchemaOf and then iterates over the
partitions using a DataReader. Compressed Data.db files are wrapped in a
CompressedReader first.

Data Structure Documentation

VarInt

All variable length integers use the Cassandra unsigned VarInt encoding. The
number of leading one-bits in the first byte is the number of extra bytes
which follow. The remaining bits of the first byte are the most significant
bits of the value.

    +----------------------------+----------------------------+
    | 1 0 x x x x x x  (1 byte)  | extra byte 1               |
    +----------------------------+----------------------------+

Statistics.db

Statistics.db starts with a table of contents, followed by the metadata
sections in offset order.

    +-----------------+---------------------+---------------------+-------+
    | count (4 bytes) | type 1 (4 bytes)    | offset 1 (4 bytes)  |  ...  |
    +-----------------+---------------------+---------------------+-------+

    Serialization header:
    +------------------+------------------+------------------+
    | min ts (varint)  | min ldt (varint) | min ttl (varint) |
    +------------------+------------------+------------------+----------------------------+
    | partition key type (varint len)     | clustering types (varint count, varint len)   |
    +-------------------------------------+-----------------------------------------------+
    | static columns (varint count, name + type)  | regular columns (varint count, name + type) |
    +---------------------------------------------+---------------------------------------------+

Data.db

Data.db is a sequence of partitions. Each partition starts with a header and
contains a series of unfiltereds, terminated by a single 0x01 byte.

    Partition:
    +-----------------------+----------------------+--------------------------+-----------+------------+
    | key len (2 bytes)     | local del. (4 bytes) | marked for del. (8 bytes)| row ...   | 0x01       |
    +-----------------------+----------------------+--------------------------+-----------+------------+

    Row:
    +--------+-----------------+------------+-------------------+----------------------------------+
    | flags  | ext. flags (*)  | clustering | body size (varint)| body                             |
    +--------+-----------------+------------+-------------------+----------------------------------+

    Row body:
    +-----------------+----------------+---------------+--------------------+-------------------+---------+
    | prev size (vi)  | timestamp (vi) | ttl pair (*)  | deletion pair (*)  | column bitmap (*) | cells   |
    +-----------------+----------------+---------------+--------------------+-------------------+---------+

    Cell:
    +--------+-----------------+---------------------+--------------+---------------------------------+
    | flags  | timestamp (*)   | local del. time (*) | ttl (*)      | value (*, varint len if needed) |
    +--------+-----------------+---------------------+--------------+---------------------------------+

Fields marked (*) are only present when the corresponding flags are set.

CompressionInfo.db

    +-----------------+--------------------+---------------------+------------------------+
    | class name (2+) | options (4 + 2+2+) | chunk len (4 bytes) | max compressed len (4) |
    +-----------------+--------------------+---------------------+------------------------+
    | data length (8 bytes) | chunk count (4 bytes) | chunk offset 1 (8 bytes) |  ...     |
    +-----------------------+-----------------------+--------------------------+----------+

Each stored chunk is followed by a 4-byte CRC32 of its stored bytes.
*/
package sstable
