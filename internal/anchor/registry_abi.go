package anchor

// flightLogRegistryABI describes the FlightLogRegistry contract: one
// last-write-wins slot per mission key holding a storage key, the block
// timestamp of the write and the sender.
const flightLogRegistryABI = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true,  "internalType": "bytes32", "name": "missionId", "type": "bytes32"},
      {"indexed": false, "internalType": "string",  "name": "s3Key",     "type": "string"},
      {"indexed": false, "internalType": "uint256", "name": "timestamp", "type": "uint256"},
      {"indexed": true,  "internalType": "address", "name": "uploader",  "type": "address"}
    ],
    "name": "FlightLogged",
    "type": "event"
  },
  {
    "inputs": [{"internalType": "bytes32", "name": "", "type": "bytes32"}],
    "name": "flightLogs",
    "outputs": [
      {"internalType": "string",  "name": "s3Key",     "type": "string"},
      {"internalType": "uint256", "name": "timestamp", "type": "uint256"},
      {"internalType": "address", "name": "uploader",  "type": "address"}
    ],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "bytes32", "name": "missionId", "type": "bytes32"}],
    "name": "getFlight",
    "outputs": [
      {"internalType": "string",  "name": "s3Key",     "type": "string"},
      {"internalType": "uint256", "name": "timestamp", "type": "uint256"},
      {"internalType": "address", "name": "uploader",  "type": "address"}
    ],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "bytes32", "name": "missionId", "type": "bytes32"},
      {"internalType": "string",  "name": "s3Key",     "type": "string"}
    ],
    "name": "logFlight",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  }
]`
