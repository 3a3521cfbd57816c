/*
Package ptree implements a hierarchical object tree stored in a single file
(in this case, on top of Bolt).

We implement:

1. Groups, named containers of other nodes, forming a tree addressed by
slash-separated paths.

2. Tables, sequences of fixed-size records with a typed column schema.

3. Arrays, fixed one-dimensional data written once, and extendable arrays,
which grow by appending.

4. Attributes, typed metadata attached to every node. System attributes
(CLASS, TITLE, VERSION, FILTERS, NROWS and friends) are managed by the
engine; everything else belongs to the user.

5. Filters, the compression settings of a node, inherited down the tree.

6. Copying of nodes, subtrees and whole files.

# Technical Details

**Buckets.**
Each node is a Bolt bucket nested in the bucket of its parent group. A node
bucket holds the node state, an attribute bucket, a children bucket (groups)
and a data bucket (tables and arrays).

**Object ids.**
We assign a unique positive integer to each node when it is created. These
values are never reused, even if a node is removed, and survive renames.
Decoded chunks are cached by object id.

**Node state.**
We store a msgpack document per node, called “node state”: kind, filters,
column schema or atom, row and chunk counts.

**Warnings.**
Irregular names and oversized structures are advisories, not errors. The
WarningPolicy in Options decides whether they are logged, ignored or returned
as errors.

## Binary encoding

**Chunks.** Table rows and array elements are little-endian fixed-size
records, packed into chunks and encoded by the codec package (shuffle,
compression, checksum). Chunk keys are big-endian chunk numbers.

**Attributes.** Each attribute is a msgpack record holding the system flag,
the declaration order and the msgpack-encoded value.
*/
package ptree
