package pe

import (
	"fmt"
	"strings"
)

// Flags is a decoded bit-flag field: the names of the bits that were set,
// in table order. Bits without a name are left out.
type Flags []string

// Has reports whether the named flag is set.
func (f Flags) Has(name string) bool {
	for _, v := range f {
		if v == name {
			return true
		}
	}
	return false
}

func (f Flags) String() string {
	return strings.Join(f, "|")
}

type flagBit struct {
	bit  uint32
	name string
}

func decodeFlags(table []flagBit, v uint32) Flags {
	flags := Flags{}
	for _, fb := range table {
		if v&fb.bit != 0 {
			flags = append(flags, fb.name)
		}
	}
	return flags
}

// COFF characteristics.
const (
	FileRelocsStripped       = "RELOCS_STRIPPED"
	FileExecutableImage      = "EXECUTABLE_IMAGE"
	FileLineNumsStripped     = "LINE_NUMS_STRIPPED"
	FileLocalSymsStripped    = "LOCAL_SYMS_STRIPPED"
	FileAggressiveWsTrim     = "AGGRESSIVE_WS_TRIM"
	FileLargeAddressAware    = "LARGE_ADDRESS_AWARE"
	FileBytesReversedLo      = "BYTES_REVERSED_LO"
	File32BitMachine         = "32BIT_MACHINE"
	FileDebugStripped        = "DEBUG_STRIPPED"
	FileRemovableRunFromSwap = "REMOVABLE_RUN_FROM_SWAP"
	FileNetRunFromSwap       = "NET_RUN_FROM_SWAP"
	FileSystem               = "SYSTEM"
	FileDLL                  = "DLL"
	FileUpSystemOnly         = "UP_SYSTEM_ONLY"
	FileBytesReversedHi      = "BYTES_REVERSED_HI"
)

var fileCharacteristics = []flagBit{
	{0x0001, FileRelocsStripped},
	{0x0002, FileExecutableImage},
	{0x0004, FileLineNumsStripped},
	{0x0008, FileLocalSymsStripped},
	{0x0010, FileAggressiveWsTrim},
	{0x0020, FileLargeAddressAware},
	{0x0080, FileBytesReversedLo},
	{0x0100, File32BitMachine},
	{0x0200, FileDebugStripped},
	{0x0400, FileRemovableRunFromSwap},
	{0x0800, FileNetRunFromSwap},
	{0x1000, FileSystem},
	{0x2000, FileDLL},
	{0x4000, FileUpSystemOnly},
	{0x8000, FileBytesReversedHi},
}

// DLL characteristics.
const (
	DllHighEntropyVA       = "HIGH_ENTROPY_VA"
	DllDynamicBase         = "DYNAMIC_BASE"
	DllForceIntegrity      = "FORCE_INTEGRITY"
	DllNXCompat            = "NX_COMPAT"
	DllNoIsolation         = "NO_ISOLATION"
	DllNoSEH               = "NO_SEH"
	DllNoBind              = "NO_BIND"
	DllAppContainer        = "APPCONTAINER"
	DllWDMDriver           = "WDM_DRIVER"
	DllGuardCF             = "GUARD_CF"
	DllTerminalServerAware = "TERMINAL_SERVER_AWARE"
)

var dllCharacteristics = []flagBit{
	{0x0020, DllHighEntropyVA},
	{0x0040, DllDynamicBase},
	{0x0080, DllForceIntegrity},
	{0x0100, DllNXCompat},
	{0x0200, DllNoIsolation},
	{0x0400, DllNoSEH},
	{0x0800, DllNoBind},
	{0x1000, DllAppContainer},
	{0x2000, DllWDMDriver},
	{0x4000, DllGuardCF},
	{0x8000, DllTerminalServerAware},
}

// Section characteristics.
const (
	ScnCntCode              = "CNT_CODE"
	ScnCntInitializedData   = "CNT_INITIALIZED_DATA"
	ScnCntUninitializedData = "CNT_UNINITIALIZED_DATA"
	ScnLnkInfo              = "LNK_INFO"
	ScnLnkRemove            = "LNK_REMOVE"
	ScnLnkComdat            = "LNK_COMDAT"
	ScnGPRel                = "GPREL"
	ScnLnkNRelocOvfl        = "LNK_NRELOC_OVFL"
	ScnMemDiscardable       = "MEM_DISCARDABLE"
	ScnMemNotCached         = "MEM_NOT_CACHED"
	ScnMemNotPaged          = "MEM_NOT_PAGED"
	ScnMemShared            = "MEM_SHARED"
	ScnMemExecute           = "MEM_EXECUTE"
	ScnMemRead              = "MEM_READ"
	ScnMemWrite             = "MEM_WRITE"
)

var sectionCharacteristics = []flagBit{
	{0x00000020, ScnCntCode},
	{0x00000040, ScnCntInitializedData},
	{0x00000080, ScnCntUninitializedData},
	{0x00000200, ScnLnkInfo},
	{0x00000800, ScnLnkRemove},
	{0x00001000, ScnLnkComdat},
	{0x00008000, ScnGPRel},
	{0x01000000, ScnLnkNRelocOvfl},
	{0x02000000, ScnMemDiscardable},
	{0x04000000, ScnMemNotCached},
	{0x08000000, ScnMemNotPaged},
	{0x10000000, ScnMemShared},
	{0x20000000, ScnMemExecute},
	{0x40000000, ScnMemRead},
	{0x80000000, ScnMemWrite},
}

var machineNames = map[uint16]string{
	0x0000: "UNKNOWN",
	0x014c: "I386",
	0x0166: "R4000",
	0x01a2: "SH3",
	0x01a6: "SH4",
	0x01c0: "ARM",
	0x01c2: "THUMB",
	0x01c4: "ARMNT",
	0x01f0: "POWERPC",
	0x0200: "IA64",
	0x0ebc: "EBC",
	0x5032: "RISCV32",
	0x5064: "RISCV64",
	0x6232: "LOONGARCH32",
	0x6264: "LOONGARCH64",
	0x8664: "AMD64",
	0xaa64: "ARM64",
}

// MachineName returns the IMAGE_FILE_MACHINE name for code.
func MachineName(code uint16) string {
	if name, ok := machineNames[code]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(0x%04X)", code)
}

var subsystemNames = map[uint16]string{
	0:  "UNKNOWN",
	1:  "NATIVE",
	2:  "WINDOWS_GUI",
	3:  "WINDOWS_CUI",
	5:  "OS2_CUI",
	7:  "POSIX_CUI",
	8:  "NATIVE_WINDOWS",
	9:  "WINDOWS_CE_GUI",
	10: "EFI_APPLICATION",
	11: "EFI_BOOT_SERVICE_DRIVER",
	12: "EFI_RUNTIME_DRIVER",
	13: "EFI_ROM",
	14: "XBOX",
	16: "WINDOWS_BOOT_APPLICATION",
}

// SubsystemName returns the IMAGE_SUBSYSTEM name for code.
func SubsystemName(code uint16) string {
	if name, ok := subsystemNames[code]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(0x%04X)", code)
}

var dataDirectoryNames = [ImageNumberOfDirectoryEntries]string{
	"Export",
	"Import",
	"Resource",
	"Exception",
	"Certificate",
	"BaseRelocation",
	"Debug",
	"Architecture",
	"GlobalPtr",
	"TLS",
	"LoadConfig",
	"BoundImport",
	"IAT",
	"DelayImport",
	"CLRRuntime",
	"Reserved",
}
