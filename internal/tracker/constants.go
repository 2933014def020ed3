package tracker

const GlobalLimitWindowSize = 50
