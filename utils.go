package pe

import (
	"strings"
)

// stringInSlice checks weather a string exists in a slice of strings.
func stringInSlice(a string, list []string) bool {
	for _, b := range list {
		if b == a {
			return true
		}
	}
	return false
}

const (
	alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	numerals = "0123456789"
)

// isValidFunctionName accepts the characters compilers emit in undecorated
// and C++-decorated export names.
func isValidFunctionName(functionName string) bool {
	if functionName == "" {
		return false
	}
	charset := alphabet + numerals + "_?@$()<>"
	for _, c := range functionName {
		if !strings.ContainsRune(charset, c) {
			return false
		}
	}
	return true
}

func isValidDLLName(filename string) bool {
	if filename == "" {
		return false
	}
	charset := alphabet + numerals + "!#$%&'()-@^_`{}~+,.;=[]\\/ "
	for _, c := range filename {
		if !strings.ContainsRune(charset, c) {
			return false
		}
	}
	return true
}
