package rsrc

import "os"

func openFile(path string) (*os.File, error)   { return os.Open(path) }
func createFile(path string) (*os.File, error) { return os.Create(path) }
