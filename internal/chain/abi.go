package chain

// Contract fragments for the lending protocol: the factory emits the loan
// lifecycle events, each cooler holds the per-borrower loans, and the
// clearinghouse processes defaulted loans in bulk.

const coolerFactoryABI = `[
  {"type":"event","name":"ClearRequest","anonymous":false,"inputs":[
    {"name":"cooler","type":"address","indexed":false},
    {"name":"reqID","type":"uint256","indexed":false},
    {"name":"loanID","type":"uint256","indexed":false}]},
  {"type":"event","name":"RepayLoan","anonymous":false,"inputs":[
    {"name":"cooler","type":"address","indexed":false},
    {"name":"loanID","type":"uint256","indexed":false},
    {"name":"amount","type":"uint256","indexed":false}]},
  {"type":"event","name":"ExtendLoan","anonymous":false,"inputs":[
    {"name":"cooler","type":"address","indexed":false},
    {"name":"loanID","type":"uint256","indexed":false},
    {"name":"times","type":"uint8","indexed":false}]},
  {"type":"event","name":"DefaultLoan","anonymous":false,"inputs":[
    {"name":"cooler","type":"address","indexed":false},
    {"name":"loanID","type":"uint256","indexed":false},
    {"name":"amount","type":"uint256","indexed":false}]}
]`

const coolerABI = `[
  {"type":"function","name":"getLoan","stateMutability":"view",
   "inputs":[{"name":"loanID_","type":"uint256"}],
   "outputs":[{"name":"","type":"tuple","components":[
     {"name":"request","type":"tuple","components":[
       {"name":"amount","type":"uint256"},
       {"name":"interest","type":"uint256"},
       {"name":"loanToCollateral","type":"uint256"},
       {"name":"duration","type":"uint256"},
       {"name":"active","type":"bool"}]},
     {"name":"amount","type":"uint256"},
     {"name":"unclaimed","type":"uint256"},
     {"name":"collateral","type":"uint256"},
     {"name":"expiry","type":"uint256"},
     {"name":"lender","type":"address"},
     {"name":"repayDirect","type":"bool"},
     {"name":"callback","type":"bool"}]}]}
]`

const clearinghouseABI = `[
  {"type":"function","name":"claimDefaulted","stateMutability":"nonpayable",
   "inputs":[
     {"name":"coolers_","type":"address[]"},
     {"name":"loans_","type":"uint256[]"}],
   "outputs":[]}
]`

