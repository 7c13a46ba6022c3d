package main

import "github.com/edgeflare/pgcrud/cmd/pgcrud"

func main() {
	pgcrud.Main()
}
