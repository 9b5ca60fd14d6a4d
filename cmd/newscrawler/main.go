package main

import "github.com/JakeFAU/news-engagement-crawler/cmd"

func main() {
	cmd.Execute()
}
