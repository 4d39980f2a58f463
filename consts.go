package pe

const (
	ImageDOSSignature = 0x5A4D // MZ

	ImageNTHeaderSignature = 0x00004550 // PE\0\0

	ImageNtOptionalHdr32Magic = 0x10b
	ImageNtOptionalHdr64Magic = 0x20b
)

// Fixed record sizes.
const (
	DOSHeaderSize        = 64
	FileHeaderSize       = 20
	SectionHeaderSize    = 40
	ImportDescriptorSize = 20
	DataDirectorySize    = 8

	// e_lfanew position inside the DOS header.
	peOffsetField = 0x3C
)

// IMAGE_DIRECTORY_ENTRY constants
const (
	ImageDirectoryEntryExport        = 0
	ImageDirectoryEntryImport        = 1
	ImageDirectoryEntryResource      = 2
	ImageDirectoryEntryException     = 3
	ImageDirectoryEntrySecurity      = 4
	ImageDirectoryEntryBaseReLoc     = 5
	ImageDirectoryEntryDebug         = 6
	ImageDirectoryEntryArchitecture  = 7
	ImageDirectoryEntryGlobalPtr     = 8
	ImageDirectoryEntryTls           = 9
	ImageDirectoryEntryLoadConfig    = 10
	ImageDirectoryEntryBoundImport   = 11
	ImageDirectoryEntryIat           = 12
	ImageDirectoryEntryDelayImport   = 13
	ImageDirectoryEntryComDescriptor = 14

	ImageNumberOfDirectoryEntries = 16
)

const (
	imageOrdinalFlag32 = uint64(0x80000000)
	imageOrdinalFlag64 = uint64(0x8000000000000000)
	addressMask32      = uint64(0x7fffffff)
	addressMask64      = uint64(0x7fffffffffffffff)

	maxDllLength        = 0x100
	maxImportNameLength = 0x200
)

const (
	DansSignature = 0x536E6144
	RichSignature = "Rich"
)
